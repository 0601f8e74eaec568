package buildinfo

// Set at link time: -ldflags "-X shopassist/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// UserAgent identifies outbound webhook requests.
func UserAgent() string {
	return "shopassist-webhooks/" + Version
}
