// Package bundle turns a built site directory into a FileSet: enumeration,
// exclusion, symlink checks, the optional site file, and content types.
package bundle

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// excludeRule is one exclusion condition. Exactly one field is set.
type excludeRule struct {
	dir   string                // matches the directory and everything below it
	glob  string                // doublestar pattern against the full relative path
	match func(rel string) bool // custom predicate
}

// alwaysExcluded never ships to a public host, whatever the user asks for.
var alwaysExcluded = []excludeRule{
	{dir: ".git"},
	{dir: ".hg"},
	{dir: ".svn"},
	{dir: ".aws"},
	{dir: ".ssh"},
	{match: isDotEnv},
	{glob: "**/*.pem"},
	{glob: "**/*.key"},
	{glob: "**/*.p12"},
	{glob: "**/*.pfx"},
	{match: baseIs("id_rsa", "id_ed25519")},
	{match: baseIs(SiteFileName)},
}

// defaultExcluded is build debris that has no business on a CDN.
var defaultExcluded = []excludeRule{
	{dir: "node_modules"},
	{dir: ".terraform"},
	{dir: ".cache"},
	{match: baseIs(".DS_Store", "Thumbs.db", "desktop.ini")},
	{glob: "**/*.tfstate*"},
}

// isDotEnv matches .env and .env.* but keeps .env.example around since
// documentation sites sometimes publish it on purpose.
func isDotEnv(rel string) bool {
	base := path.Base(rel)
	if base == ".env" {
		return true
	}
	return strings.HasPrefix(base, ".env.") && base != ".env.example"
}

func baseIs(names ...string) func(string) bool {
	return func(rel string) bool {
		base := path.Base(rel)
		for _, n := range names {
			if base == n {
				return true
			}
		}
		return false
	}
}

func (r excludeRule) matches(rel string) bool {
	switch {
	case r.match != nil:
		return r.match(rel)
	case r.dir != "":
		return rel == r.dir || strings.HasPrefix(rel, r.dir+"/") || strings.Contains(rel, "/"+r.dir+"/") || strings.HasSuffix(rel, "/"+r.dir)
	case r.glob != "":
		// "**/x" in doublestar also matches "x" at the root.
		ok, _ := doublestar.Match(r.glob, rel)
		return ok
	}
	return false
}

// ShouldExclude reports whether rel (slash-separated, relative to the site
// root, no leading slash) is left out of the FileSet. User patterns are
// gitignore-flavoured globs and only add exclusions.
func ShouldExclude(rel string, userExcludes []string) bool {
	for _, r := range alwaysExcluded {
		if r.matches(rel) {
			return true
		}
	}
	for _, r := range defaultExcluded {
		if r.matches(rel) {
			return true
		}
	}

	for _, pattern := range userExcludes {
		p := strings.TrimSpace(pattern)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		p = strings.TrimPrefix(p, "/")

		if strings.HasSuffix(p, "/") {
			dir := strings.TrimSuffix(p, "/")
			if rel == dir || strings.HasPrefix(rel, dir+"/") {
				return true
			}
			continue
		}

		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		// Slash-free patterns apply at any depth.
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, path.Base(rel)); ok {
				return true
			}
		}
	}

	return false
}
