package bot

// tgbotapi v5.5.1 has no web_app button, so the inline keyboard is sent as
// raw reply_markup JSON.
type webAppInfo struct {
	URL string `json:"url"`
}

type webAppButton struct {
	Text   string     `json:"text"`
	WebApp webAppInfo `json:"web_app"`
}

type webAppKeyboard struct {
	InlineKeyboard [][]webAppButton `json:"inline_keyboard"`
}

// mainKeyboard — одна кнопка в ряд: старт и списки подарков.
func mainKeyboard(launchURL, giftListsURL string) webAppKeyboard {
	return webAppKeyboard{InlineKeyboard: [][]webAppButton{
		{{Text: "🎮 Start", WebApp: webAppInfo{URL: launchURL}}},
		{{Text: "🏆 My gift lists", WebApp: webAppInfo{URL: giftListsURL}}},
	}}
}
