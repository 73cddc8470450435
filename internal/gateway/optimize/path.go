package optimize

import (
	"net/url"
	"regexp"
	"strings"
)

// collapsedScheme matches a scheme whose "//" was squashed by a proxy or
// router, e.g. "https:/host".
var collapsedScheme = regexp.MustCompile(`^(https?):/+`)

// Path is a decomposed optimize path.
type Path struct {
	Operations string
	Image      string
}

// Canonical is the string covered by URL signatures.
func (p Path) Canonical() string {
	return "/" + p.Operations + "/" + p.Image
}

// Source is the absolute URL of the source image. A path without a scheme is
// fetched over https.
func (p Path) Source() string {
	if strings.HasPrefix(p.Image, "http://") || strings.HasPrefix(p.Image, "https://") {
		return p.Image
	}
	return "https://" + p.Image
}

// DecomposePath splits an escaped "/{operations}/{image_path}" path. The
// image path is every remaining segment, URL-decoded, with a collapsed
// protocol double slash restored.
func DecomposePath(escaped string) (Path, error) {
	segments := strings.SplitN(strings.TrimPrefix(escaped, "/"), "/", 2)
	if len(segments) < 2 || segments[0] == "" || strings.Trim(segments[1], "/") == "" {
		return Path{}, newError(KindMalformedPath, "path must have the form /{operations}/{image_path}")
	}

	ops, err := url.PathUnescape(segments[0])
	if err != nil {
		return Path{}, &Error{Kind: KindMalformedPath, Message: "operations segment is not valid URL encoding", Err: err}
	}
	image, err := url.PathUnescape(segments[1])
	if err != nil {
		return Path{}, &Error{Kind: KindMalformedPath, Message: "image path is not valid URL encoding", Err: err}
	}

	image = collapsedScheme.ReplaceAllString(image, "$1://")
	return Path{Operations: ops, Image: image}, nil
}
