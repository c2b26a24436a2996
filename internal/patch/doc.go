// Package patch applies nested insert, overwrite, and delete operations to
// generic JSON value trees addressed by a key path.
//
// Trees are the plain shapes encoding/json produces: map[string]any for
// objects, []any for arrays. Because Go slices reallocate on growth, both
// operations return the updated root instead of mutating through a shared
// reference; callers store the result back.
package patch
