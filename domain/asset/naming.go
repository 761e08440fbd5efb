// Package asset renders output file names from naming schemes and computes
// content hashes.
package asset

import (
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashLength is the number of hex characters of the content hash embedded in
// output names.
const HashLength = 20

// ContentHash returns the truncated hex blake2b-256 digest of data.
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])[:HashLength]
}

// Render expands a naming scheme for source file src (slash separated) with
// the output bytes content. Supported placeholders: [name], [ext], [path],
// [hash], [contenthash], [chunkhash]. An empty scheme yields the base name.
func Render(scheme, src string, content []byte) (string, error) {
	base := path.Base(src)
	ext := strings.TrimPrefix(path.Ext(base), ".")
	name := strings.TrimSuffix(base, path.Ext(base))
	dir := path.Dir(src)
	if dir == "." {
		dir = ""
	} else {
		dir += "/"
	}

	if scheme == "" {
		return base, nil
	}

	var hash string
	var b strings.Builder
	rest := scheme
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], ']')
		if end < 0 {
			return "", fmt.Errorf("naming scheme %q: unterminated placeholder", scheme)
		}
		b.WriteString(rest[:open])
		placeholder := rest[open+1 : open+end]
		rest = rest[open+end+1:]

		switch placeholder {
		case "name":
			b.WriteString(name)
		case "ext":
			b.WriteString(ext)
		case "path":
			b.WriteString(dir)
		case "hash", "contenthash", "chunkhash":
			if hash == "" {
				hash = ContentHash(content)
			}
			b.WriteString(hash)
		default:
			return "", fmt.Errorf("naming scheme %q: unknown placeholder [%s]", scheme, placeholder)
		}
	}
	return b.String(), nil
}

// Hashed reports whether a scheme embeds a content hash.
func Hashed(scheme string) bool {
	return strings.Contains(scheme, "[hash]") ||
		strings.Contains(scheme, "[contenthash]") ||
		strings.Contains(scheme, "[chunkhash]")
}
