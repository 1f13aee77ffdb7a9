package resolver

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/miniclick/calltrackd/internal/callrec"
)

// MatchTolerance is how far a recording's mtime may fall outside the
// call window and still count as belonging to the call. Recorder apps
// flush the file up to a minute after the call ends.
const MatchTolerance = 60 * time.Second

// audioExtensions are the file types recorder apps are known to write.
var audioExtensions = map[string]bool{
	".m4a": true,
	".mp3": true,
	".amr": true,
	".wav": true,
	".ogg": true,
	".aac": true,
	".3gp": true,
	".opus": true,
}

// IsAudioFile reports whether the path has a known recording extension.
func IsAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// candidateFile is one recording file under consideration.
type candidateFile struct {
	path    string
	modTime int64 // epoch millis
}

// withinWindow reports whether the file's mtime falls inside the call's
// duration window, padded by the tolerance on both sides.
func withinWindow(f candidateFile, r *callrec.Record) bool {
	start := r.OccurredAt - MatchTolerance.Milliseconds()
	end := r.OccurredAt + r.DurationSeconds*1000 + MatchTolerance.Milliseconds()
	return f.modTime >= start && f.modTime <= end
}

// phoneVariants returns the digit forms a recorder app might embed in a
// filename for the given contact key: the full digits, the last ten,
// the last nine, and the national form without leading zeros.
func phoneVariants(contactKey string) []string {
	digits := strings.TrimPrefix(contactKey, "+")
	if digits == "" {
		return nil
	}

	seen := map[string]bool{}
	var variants []string
	add := func(v string) {
		if len(v) >= 7 && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	add(digits)
	if len(digits) > 10 {
		add(digits[len(digits)-10:])
	}
	if len(digits) > 9 {
		add(digits[len(digits)-9:])
	}
	add(strings.TrimLeft(digits, "0"))
	return variants
}

// matchesPhone reports whether the filename embeds one of the contact
// key's digit variants.
func matchesPhone(filename, contactKey string) bool {
	fileDigits := digitsOf(filename)
	for _, v := range phoneVariants(contactKey) {
		if strings.Contains(fileDigits, v) {
			return true
		}
	}
	return false
}

// matchesName reports whether the filename contains a part of the
// contact's display name. Short parts are skipped to avoid matching on
// initials or particles.
func matchesName(filename, displayName string) bool {
	if displayName == "" {
		return false
	}
	lower := strings.ToLower(filename)
	for _, part := range strings.Fields(strings.ToLower(displayName)) {
		if len(part) >= 3 && strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// bestMatch picks the record a recording file belongs to, or nil.
// Candidates outside the padded call window never match. Among the
// rest, a phone-number filename match wins, then a contact-name match,
// then the call whose window end lies closest to the file's mtime.
func bestMatch(f candidateFile, candidates []*callrec.Record) *callrec.Record {
	var byTime *callrec.Record
	var byTimeDist int64 = -1
	var byName *callrec.Record

	base := filepath.Base(f.path)
	for _, r := range candidates {
		if !withinWindow(f, r) {
			continue
		}
		if matchesPhone(base, r.ContactKey) {
			return r
		}
		if byName == nil && matchesName(base, r.DisplayName) {
			byName = r
		}

		end := r.OccurredAt + r.DurationSeconds*1000
		dist := f.modTime - end
		if dist < 0 {
			dist = -dist
		}
		if byTimeDist < 0 || dist < byTimeDist {
			byTimeDist = dist
			byTime = r
		}
	}

	if byName != nil {
		return byName
	}
	return byTime
}
