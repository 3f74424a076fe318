package processor

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OutputPaths names the output of each input inside outDir, in the form
// ProcessFile expects: the extension of each path is replaced by the written
// suffixes. Inputs sharing a stem, such as a.jpg and a.png, keep their
// extension in the name ("a_jpg", "a_png") so neither overwrites the other.
func OutputPaths(inputs []string, outDir string) []string {
	stems := make([]string, len(inputs))
	count := make(map[string]int, len(inputs))
	for i, in := range inputs {
		base := filepath.Base(in)
		stems[i] = strings.TrimSuffix(base, filepath.Ext(base))
		count[strings.ToLower(stems[i])]++
	}

	used := make(map[string]bool, len(inputs))
	out := make([]string, len(inputs))
	for i, in := range inputs {
		name := stems[i]
		if count[strings.ToLower(name)] > 1 {
			if ext := strings.TrimPrefix(filepath.Ext(in), "."); ext != "" {
				name += "_" + strings.ToLower(ext)
			}
		}
		unique := name
		for n := 2; used[strings.ToLower(unique)]; n++ {
			unique = fmt.Sprintf("%s_%d", name, n)
		}
		used[strings.ToLower(unique)] = true
		out[i] = filepath.Join(outDir, unique+".png")
	}
	return out
}
