package providers

func init() {
	register(bearer{
		path: "/chat/completions",
		info: Info{
			Name:           DeepSeek,
			DisplayName:    "DeepSeek",
			DefaultBaseURL: "https://api.deepseek.com",
			DefaultModel:   "deepseek-chat",
			Models:         []string{"deepseek-chat", "deepseek-reasoner"},
			RequiresAPIKey: true,
		},
	})
}
