package credentials

// maskShowChars is how many leading characters a masked preview keeps.
const maskShowChars = 2

// Mask returns a preview of a sensitive value safe for logging: the first
// two characters followed by a replacement marker. Values too short to
// preview are fully masked.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= maskShowChars {
		return "***"
	}
	return value[:maskShowChars] + "***"
}
