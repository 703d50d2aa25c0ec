package accesslog

import (
	"net/url"
	"regexp"
	"strings"
)

// Kind tags the outcome of classifying one request.
type Kind int

const (
	// NoRequest means no quoted HTTP request line could be found.
	NoRequest Kind = iota
	// Matched means the request reads the content of Repository.
	Matched
	// Discarded means a request path was found but names no repository.
	Discarded
)

func (k Kind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Discarded:
		return "discarded"
	default:
		return "no_request"
	}
}

// Classification is the result of Classify. Repository is set for Matched,
// Path for Discarded.
type Classification struct {
	Kind       Kind
	Repository string
	Path       string
}

var (
	// packTransferPattern matches git smart-HTTP fetches and clones:
	//   "GET /a/platform/core.git/info/refs?service=git-upload-pack HTTP/1.1"
	//   "POST /platform/core/git-upload-pack HTTP/1.1"
	packTransferPattern = regexp.MustCompile(
		`"(?:GET|POST) (?:/a|/p)?/([^ "]+?)(?:\.git)?/(?:info/refs\?service=git-upload-pack|git-upload-pack|upload-pack)(?:[ "?]|$)`)

	// requestLinePattern extracts the raw path of a read-only request.
	requestLinePattern = regexp.MustCompile(`"(?:GET|HEAD) ([^ "]+)`)
)

const (
	authPrefix     = "/a/"
	projectsPrefix = "/projects/"
	changesPrefix  = "/changes/"
)

// Classify decides whether an access-log line is a content read of a repository.
//
// Git pack-transfer requests are checked first; only when a line is not one does
// the looser REST fallback run (/projects/<name>, /changes/<project>~<branch>~<id>).
// Names are percent-decoded, falling back to the raw token when decoding fails.
func Classify(line string) Classification {
	if m := packTransferPattern.FindStringSubmatch(line); m != nil {
		return Classification{Kind: Matched, Repository: decodeName(m[1])}
	}

	m := requestLinePattern.FindStringSubmatch(line)
	if m == nil {
		return Classification{Kind: NoRequest}
	}

	path := m[1]
	if strings.HasPrefix(path, authPrefix) {
		path = path[len(authPrefix)-1:]
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	switch {
	case strings.HasPrefix(path, projectsPrefix):
		if name := firstSegment(path[len(projectsPrefix):]); name != "" {
			return Classification{Kind: Matched, Repository: decodeName(name)}
		}
	case strings.HasPrefix(path, changesPrefix):
		segment := firstSegment(path[len(changesPrefix):])
		if project, _, ok := strings.Cut(segment, "~"); ok && project != "" {
			return Classification{Kind: Matched, Repository: decodeName(project)}
		}
	}

	return Classification{Kind: Discarded, Path: path}
}

// firstSegment returns s up to the first '/'.
func firstSegment(s string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}

func decodeName(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
