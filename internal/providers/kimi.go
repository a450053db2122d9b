package providers

// KimiDefaultBaseURL is also the system credential's fallback endpoint.
const KimiDefaultBaseURL = "https://api.moonshot.cn/v1"

// KimiDefaultModel is used when neither the credential nor KIMI_MODEL names one.
const KimiDefaultModel = "moonshot-v1-8k"

func init() {
	register(bearer{
		path: "/chat/completions",
		info: Info{
			Name:           Kimi,
			DisplayName:    "Kimi (Moonshot)",
			DefaultBaseURL: KimiDefaultBaseURL,
			DefaultModel:   KimiDefaultModel,
			Models:         []string{"moonshot-v1-8k", "moonshot-v1-32k", "moonshot-v1-128k"},
			RequiresAPIKey: true,
		},
	})
}
