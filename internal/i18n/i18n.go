package i18n

import "strings"

// Language selects the prompt templates, voices and user-facing strings.
type Language string

const (
	Bengali Language = "bn"
	English Language = "en"

	// Fallback is consulted when a key is missing for the selected language.
	Fallback = English
)

// Parse maps a client-supplied language code onto a supported Language.
func Parse(code string, def Language) Language {
	switch Language(strings.ToLower(strings.TrimSpace(code))) {
	case Bengali:
		return Bengali
	case English:
		return English
	default:
		return def
	}
}

func (l Language) Valid() bool {
	return l == Bengali || l == English
}

// T looks up key for lang, falling back to English and then to the key itself.
func T(lang Language, key string) string {
	if s, ok := translations[lang][key]; ok && s != "" {
		return s
	}
	if s, ok := translations[Fallback][key]; ok {
		return s
	}
	return key
}

var translations = map[Language]map[string]string{
	English: {
		"chatInitialMessage":        "Hello! I'm Chashi Bondhu. Ask me anything about treating this disease, such as which medicine to use, how to apply it, or where to buy it.",
		"chatErrorMessage":          "Sorry, I couldn't answer that right now. Please try again.",
		"errorContentBlocked":       "Content Blocked",
		"errorAnalysisFailed":       "Analysis Failed",
		"errorInvalidResponse":      "Invalid Response",
		"errorConnection":           "Connection Error",
		"errorUnexpected":           "An unexpected error occurred. Please try again.",
		"errorNoImage":              "No Image Selected",
		"errorNoImageMessage":       "Please select a photo of a plant or leaf before starting the analysis.",
		"errorChatInit":             "Chat Unavailable",
		"errorChatInitMessage":      "The follow-up assistant could not be started. Please try again.",
		"errorFileRead":             "Could Not Read File",
		"errorFileReadMessage":      "The selected file could not be read. Please try a different image.",
		"plantStatus":               "Plant Status",
		"identifiedDisease":         "Identified Disease",
		"descriptionLabel":          "Description",
		"controlMeasuresLabel":      "Control Measures",
		"preventativeMeasuresLabel": "Preventative Measures",
		"audioContextNotReady":      "Audio context not ready. Please click on the page first and try again.",
		"audioError":                "Failed to play audio.",
	},
	Bengali: {
		"chatInitialMessage":        "নমস্কার! আমি চাষী বন্ধু। এই রোগের চিকিৎসা নিয়ে যেকোনো প্রশ্ন করুন, যেমন কোন ওষুধ ব্যবহার করবেন, কীভাবে প্রয়োগ করবেন বা কোথায় কিনতে পাবেন।",
		"chatErrorMessage":          "দুঃখিত, এই মুহূর্তে উত্তর দিতে পারছি না। অনুগ্রহ করে আবার চেষ্টা করুন।",
		"errorContentBlocked":       "বিষয়বস্তু অবরুদ্ধ",
		"errorAnalysisFailed":       "বিশ্লেষণ ব্যর্থ হয়েছে",
		"errorInvalidResponse":      "অপ্রত্যাশিত উত্তর",
		"errorConnection":           "সংযোগে সমস্যা",
		"errorUnexpected":           "একটি অপ্রত্যাশিত সমস্যা হয়েছে। অনুগ্রহ করে আবার চেষ্টা করুন।",
		"errorNoImage":              "কোনো ছবি নির্বাচন করা হয়নি",
		"errorNoImageMessage":       "বিশ্লেষণ শুরু করার আগে গাছ বা পাতার একটি ছবি নির্বাচন করুন।",
		"errorChatInit":             "চ্যাট চালু করা যায়নি",
		"errorChatInitMessage":      "সহায়ক চালু করা যায়নি। অনুগ্রহ করে আবার চেষ্টা করুন।",
		"errorFileRead":             "ফাইল পড়া যায়নি",
		"errorFileReadMessage":      "নির্বাচিত ফাইলটি পড়া যায়নি। অনুগ্রহ করে অন্য একটি ছবি চেষ্টা করুন।",
		"plantStatus":               "গাছের অবস্থা",
		"identifiedDisease":         "শনাক্তকৃত রোগ",
		"descriptionLabel":          "বিবরণ",
		"controlMeasuresLabel":      "নিয়ন্ত্রণ ব্যবস্থা",
		"preventativeMeasuresLabel": "প্রতিরোধমূলক ব্যবস্থা",
	},
}
