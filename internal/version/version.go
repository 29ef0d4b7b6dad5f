package version

// Current is the released contactsync version without a "v" prefix.
const Current = "0.3.0"

// UserAgent is sent on every request to the directory service.
func UserAgent() string {
	return "contactsync/" + Current
}
