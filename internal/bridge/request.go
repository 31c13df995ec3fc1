package bridge

import "strings"

// LoaderSeparator terminates each loader in a host request prefix.
const LoaderSeparator = "!"

// Request is a host request split into its loader chain prefix and resource path.
type Request struct {
	// Loaders is everything up to and including the last separator, or "".
	Loaders  string
	Resource string
}

// Split separates the loader chain prefix from the resource path.
// Host resolvers cannot handle "loader!" prefixes, so only the resource is ever resolved.
func Split(request string) Request {
	idx := strings.LastIndex(request, LoaderSeparator)
	if idx == -1 {
		return Request{Resource: request}
	}
	return Request{
		Loaders:  request[:idx+1],
		Resource: request[idx+1:],
	}
}

// String joins the prefix back onto the resource.
func (r Request) String() string {
	return r.Loaders + r.Resource
}

// WithResource returns a copy of r pointing at a different resource.
func (r Request) WithResource(resource string) Request {
	r.Resource = resource
	return r
}

// HasLoaders reports whether the request carries a loader chain.
func (r Request) HasLoaders() bool {
	return r.Loaders != ""
}

// LoaderNames lists the loaders of the chain in the order they appear.
func (r Request) LoaderNames() []string {
	if r.Loaders == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(strings.TrimSuffix(r.Loaders, LoaderSeparator), LoaderSeparator) {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// IsRelative reports whether the resource is written relative to its importer.
func (r Request) IsRelative() bool {
	res := r.Resource
	return res == "." || res == ".." || strings.HasPrefix(res, "./") || strings.HasPrefix(res, "../")
}
