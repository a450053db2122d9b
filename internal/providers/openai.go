package providers

func init() {
	register(bearer{
		path: "/chat/completions",
		info: Info{
			Name:           OpenAI,
			DisplayName:    "OpenAI",
			DefaultBaseURL: "https://api.openai.com/v1",
			DefaultModel:   "gpt-3.5-turbo",
			Models:         []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"},
			RequiresAPIKey: true,
		},
	})
}
