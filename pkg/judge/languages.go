package judge

import (
	"fmt"
	"strings"
)

// Language maps an editor language key to its execution service id.
type Language struct {
	Key   string
	Label string
	ID    int
}

// Languages is ordered; the first entry is the default selection.
var Languages = []Language{
	{Key: "javascript", Label: "JavaScript (Node.js 12.14.0)", ID: 63},
	{Key: "python", Label: "Python (3.8.1)", ID: 71},
	{Key: "go", Label: "Go (1.13.5)", ID: 60},
	{Key: "c", Label: "C (GCC 9.2.0)", ID: 50},
	{Key: "cpp", Label: "C++ (GCC 9.2.0)", ID: 54},
	{Key: "csharp", Label: "C# (Mono 6.6.0.161)", ID: 51},
	{Key: "java", Label: "Java (OpenJDK 13.0.1)", ID: 62},
	{Key: "kotlin", Label: "Kotlin (1.3.70)", ID: 78},
	{Key: "rust", Label: "Rust (1.40.0)", ID: 73},
	{Key: "ruby", Label: "Ruby (2.7.0)", ID: 72},
	{Key: "php", Label: "PHP (7.4.1)", ID: 68},
	{Key: "swift", Label: "Swift (5.2.3)", ID: 83},
	{Key: "typescript", Label: "TypeScript (3.7.4)", ID: 74},
	{Key: "bash", Label: "Bash (5.0.0)", ID: 46},
	{Key: "haskell", Label: "Haskell (GHC 8.8.1)", ID: 61},
	{Key: "lua", Label: "Lua (5.3.5)", ID: 64},
	{Key: "r", Label: "R (4.0.0)", ID: 80},
	{Key: "sql", Label: "SQL (SQLite 3.27.2)", ID: 82},
}

func DefaultLanguage() Language {
	return Languages[0]
}

// LookupLanguage finds a language by key (case insensitive) or by its
// numeric id.
func LookupLanguage(keyOrID string) (Language, error) {
	for _, l := range Languages {
		if strings.EqualFold(l.Key, keyOrID) || fmt.Sprint(l.ID) == keyOrID {
			return l, nil
		}
	}
	return Language{}, fmt.Errorf("unknown language %q", keyOrID)
}
