package planner

import "regexp"

// captionPattern matches the *****TEXT***** convention spec.md §6/§9
// pins as the caption-extraction rule for the planner and for Replace.
var captionPattern = regexp.MustCompile(`\*{5}(.+?)\*{5}`)

const maxCaptionLen = 200

// ExtractCaption pulls the delimited text out of a media URL path, truncated
// to 200 runes per spec.md §9. Returns "" if the pattern is absent.
func ExtractCaption(urlPath string) string {
	m := captionPattern.FindStringSubmatch(urlPath)
	if m == nil {
		return ""
	}
	caption := m[1]
	runes := []rune(caption)
	if len(runes) > maxCaptionLen {
		runes = runes[:maxCaptionLen]
	}
	return string(runes)
}
