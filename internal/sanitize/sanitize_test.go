package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	assert.Equal(t, "", Text(""))
	assert.Equal(t, "hello", Text("<b>hello</b>"))
	assert.Equal(t, "", Text("<script>alert(1)</script>"))
	assert.Equal(t, "fish & chips", Text("fish & chips"))
}

func TestFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cell.png", "cell.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\alice\cell 01.JPG`, "cell_01.JPG"},
		{"my   blood  smear.jpeg", "my_blood_smear.jpeg"},
		{"<img src=x onerror=alert(1)>cell.png", "cell.png"},
		{".hidden.png", "hidden.png"},
		{"tab\there.png", "tab_here.png"},
		{"null\x00byte.png", "nullbyte.png"},
		{"cellule-infectée.png", "cellule-infectée.png"},
		{"", ""},
		{"/", ""},
		{"...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Filename(tt.in))
		})
	}
}

func TestFilename_LengthCap(t *testing.T) {
	long := strings.Repeat("a", 400) + ".png"
	got := Filename(long)
	assert.Len(t, got, MaxFilenameLength)
	assert.True(t, strings.HasSuffix(got, ".png"), "extension is kept")

	multi := strings.Repeat("é", 200) + ".png"
	got = Filename(multi)
	assert.LessOrEqual(t, len(got), MaxFilenameLength)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, ".png"))
}
