package githost

import (
	"fmt"
	"regexp"
	"strings"

	"codelens-go/pkg/apperr"
)

// segmentPattern matches a single GitHub owner or repository name.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Repository identifies a repository on the host.
type Repository struct {
	Owner string
	Name  string
}

// String returns "owner/name".
func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoURL normalises a repository URL and returns its owner and name.
//
// Trailing slashes and a trailing ".git" are ignored, so all of these resolve to octo/hello:
//   - https://github.com/octo/hello
//   - https://github.com/octo/hello/
//   - https://github.com/octo/hello.git
//   - github.com/octo/hello.git/
func ParseRepoURL(raw string) (Repository, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimRight(s, "/")

	if i := strings.Index(s, "://"); i >= 0 {
		scheme := strings.ToLower(s[:i])
		if scheme != "https" && scheme != "http" {
			return Repository{}, fmt.Errorf("%w: unsupported scheme in %q", apperr.ErrInvalidRepositoryURL, raw)
		}
		s = s[i+3:]
	}

	parts := strings.Split(s, "/")
	// host/owner/repo
	if len(parts) != 3 || parts[0] == "" {
		return Repository{}, fmt.Errorf("%w: %q is not of the form https://host/owner/repo", apperr.ErrInvalidRepositoryURL, raw)
	}
	owner, name := parts[1], parts[2]
	for _, seg := range []string{owner, name} {
		if !segmentPattern.MatchString(seg) || seg == "." || seg == ".." {
			return Repository{}, fmt.Errorf("%w: %q is not of the form https://host/owner/repo", apperr.ErrInvalidRepositoryURL, raw)
		}
	}
	return Repository{Owner: owner, Name: name}, nil
}
