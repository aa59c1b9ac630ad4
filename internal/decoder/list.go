package decoder

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// List returns the decoders available to devices, keyed by name, with the
// reference to store in a device's custom_decoder setting.
//
// Built-ins map to their own name. Plugin files found under dirs map to
// their path; a plugin shadows a built-in of the same name. Directories
// that do not exist are ignored.
func List(dirs ...string) map[string]string {
	out := make(map[string]string)
	for _, name := range Registered() {
		out[name] = name
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		//nolint:errcheck // unreadable directories are skipped
		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), PluginExt) {
				return nil
			}
			out[NameOf(path)] = path
			return nil
		})
	}
	return out
}
