package eval

import (
	"strings"

	"github.com/hupe1980/flowmesh/core"
)

// PrefixVariables rewrites $references in text for a namespaced subgraph
// merge. Only references whose first segment names a node local to the
// subgraph gain the prefix; reserved roots and foreign references pass
// through unchanged.
//
//	$verify.output  ->  $auth.verify.output   (verify is a local node)
//	$ctx.some_var   ->  $ctx.some_var
//	$input.message  ->  $input.message
//	$output         ->  $output
// Node ids gain dots as prefixes chain across nested imports, so the local
// id match considers every dotted prefix of the reference, longest first.
func PrefixVariables(text, prefix string, localIDs map[string]bool) string {
	return varRefRe.ReplaceAllStringFunc(text, func(match string) string {
		ref := match[1:]
		segs := strings.Split(ref, ".")
		if core.IsReservedRoot(segs[0]) {
			return match
		}
		for n := len(segs); n >= 1; n-- {
			if localIDs[strings.Join(segs[:n], ".")] {
				return "$" + prefix + "." + ref
			}
		}
		return match
	})
}
