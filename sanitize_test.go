package clonechat

import (
	"strings"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Course Intro", "Course Intro"},
		{"zero-width space", "Cur​so", "Cur so"},
		{"zero-width joiner", "a‍b", "a b"},
		{"zero-width no-break space", "a\uFEFFb", "a b"},
		{"soft hyphen dropped", "co­urse", "course"},
		{"nfkc fullwidth", "Ｍódulo １", "Módulo 1"},
		{"nfkc ligature", "oﬃce", "office"},
	}
	for _, tt := range tests {
		if got := NormalizeText(tt.in); got != tt.want {
			t.Errorf("%s: NormalizeText(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "lesson 01.mp4", "lesson 01.mp4"},
		{"path separators", `a/b\c`, "a_b_c"},
		{"reserved chars", `q:w*e?r"t<y>u|i`, "q_w_e_r_t_y_u_i"},
		{"newlines and tabs", "a\nb\rc\td", "a_b_c_d"},
		{"trailing dots and spaces", " name. ", "name"},
		{"empty", "", "unnamed"},
		{"only dots", "...", "unnamed"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("%s: SanitizeFilename(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestSanitizeFilenameLength(t *testing.T) {
	long := strings.Repeat("á", 300) // 2 bytes per rune
	got := SanitizeFilename(long)
	if len(got) > maxFilenameLen {
		t.Errorf("got %d bytes, want <= %d", len(got), maxFilenameLen)
	}
	// The byte cut lands mid-rune; the result must stay valid UTF-8.
	if got != strings.ToValidUTF8(got, "") {
		t.Error("result contains invalid UTF-8")
	}
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short enough", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 6, "hello…"},
		{"multibyte runes", "áéíóú", 3, "áé…"},
		{"zero limit", "hello", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateText(tt.in, tt.limit); got != tt.want {
			t.Errorf("%s: TruncateText(%q, %d) = %q, want %q", tt.name, tt.in, tt.limit, got, tt.want)
		}
	}
}
