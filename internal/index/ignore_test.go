package index

import "testing"

func TestMatcher(t *testing.T) {
	m := NewMatcher([]string{
		".git",
		"**/node_modules/**",
		"**/*.min.js",
		"src/legacy",
		"./alembic/",
		"build/*.o",
		"",
	})

	tests := []struct {
		path string
		want bool
	}{
		{".git", true},
		{"sub/.git", true},
		{".github", false},
		{"node_modules", true},
		{"web/node_modules/react/index.js", true},
		{"app.min.js", true},
		{"static/js/app.min.js", true},
		{"app.js", false},
		{"src/legacy", true},
		{"src/legacy/old.go", true},
		{"src/legacyfoo", false},
		{"other/src/legacy", false},
		{"alembic/env.py", true},
		{"build/main.o", true},
		{"build/sub/main.o", false},
		{"", false},
		{".", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcherEmpty(t *testing.T) {
	if NewMatcher(nil).Match("anything/at/all.go") {
		t.Error("empty matcher matched")
	}
}
