package wire

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidRoomKey(t *testing.T) {
	valid := []string{"room123", "my_room-9", "a1b2c3", "A1b2C3", strings.Repeat("a", 49) + "1"}
	for _, key := range valid {
		assert.True(t, ValidRoomKey(key), "expected %q to be valid", key)
	}

	invalid := []string{
		"",
		"abc",          // too short
		"abcdef",       // no digit
		"123456",       // no letter
		"room key",     // space
		"a@b1cd",       // bad char
		"ab1",          // too short
		strings.Repeat("a", 50) + "1", // too long
	}
	for _, key := range invalid {
		assert.False(t, ValidRoomKey(key), "expected %q to be invalid", key)
	}
}

func TestValidRoomKeyIsCaseSensitivePattern(t *testing.T) {
	// Case matters for identity, not validity: both casings validate.
	assert.True(t, ValidRoomKey("Room42"))
	assert.True(t, ValidRoomKey("room42"))
}

func TestValidDisplayName(t *testing.T) {
	assert.True(t, ValidDisplayName("alice"))
	assert.True(t, ValidDisplayName("Alice Smith"))
	assert.True(t, ValidDisplayName("小明"))
	assert.True(t, ValidDisplayName("キティ"))
	assert.True(t, ValidDisplayName("한글"))

	assert.False(t, ValidDisplayName(""))
	assert.False(t, ValidDisplayName(" padded"))
	assert.False(t, ValidDisplayName("padded "))
	assert.False(t, ValidDisplayName("tab\tname"))
	assert.False(t, ValidDisplayName("new\nline"))
	assert.False(t, ValidDisplayName(strings.Repeat("x", 51)))
	assert.True(t, ValidDisplayName(strings.Repeat("x", 50)))
}

func TestValidateText(t *testing.T) {
	require.NoError(t, ValidateText("hi"))
	require.NoError(t, ValidateText(strings.Repeat("a", TextMaxLen)))

	assert.Error(t, ValidateText(""))
	assert.Error(t, ValidateText(strings.Repeat("a", TextMaxLen+1)))
	assert.Error(t, ValidateText(strings.Repeat("a", TextMaxLineLen+1)))
	assert.Error(t, ValidateText(strings.Repeat("x\n", TextMaxLines)+"x"))
}

func TestValidateFileInfo(t *testing.T) {
	now := time.Now()
	ok := &FileInfo{Name: "report.pdf", Size: 2 << 20, MimeType: "application/pdf", LastModified: now}
	require.NoError(t, ValidateFileInfo(ok, now))

	cases := []struct {
		name string
		fi   *FileInfo
	}{
		{"nil", nil},
		{"empty name", &FileInfo{Name: "", Size: 1}},
		{"path separator", &FileInfo{Name: "../etc/passwd", Size: 1}},
		{"backslash", &FileInfo{Name: `a\b.txt`, Size: 1}},
		{"too large", &FileInfo{Name: "big.bin", Size: MaxFileSize + 1}},
		{"negative size", &FileInfo{Name: "neg.bin", Size: -1}},
		{"stale mtime", &FileInfo{Name: "old.txt", Size: 1, LastModified: now.Add(-MaxModifiedSkew - time.Hour)}},
		{"future mtime", &FileInfo{Name: "fut.txt", Size: 1, LastModified: now.Add(MaxModifiedSkew + time.Hour)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateFileInfo(tc.fi, now))
		})
	}
}

func TestValidateSendMessage(t *testing.T) {
	now := time.Now()

	require.NoError(t, ValidateSendMessage(&SendMessagePayload{Kind: MessageText, Content: "hi"}, now))

	err := ValidateSendMessage(&SendMessagePayload{Kind: MessageText, Content: "hi", File: &FileInfo{Name: "x", Size: 1}}, now)
	assert.Error(t, err)

	err = ValidateSendMessage(&SendMessagePayload{Kind: MessageFile, Content: "hi", File: &FileInfo{Name: "x", Size: 1}}, now)
	assert.Error(t, err)

	require.NoError(t, ValidateSendMessage(&SendMessagePayload{
		Kind: MessageFile,
		File: &FileInfo{Name: "a.txt", Size: 10, MimeType: "text/plain"},
	}, now))

	err = ValidateSendMessage(&SendMessagePayload{Kind: "blob", Content: "x"}, now)
	assert.Equal(t, CodeInvalidPayload, CodeOf(err))
}

func TestValidateJoinRoomPayload(t *testing.T) {
	good := &JoinRoomPayload{
		RoomKey:     "test01",
		DisplayName: "alice",
		Fingerprint: "fp-1234567890abcdef",
		DeviceKind:  DeviceDesktop,
	}
	require.NoError(t, ValidateStruct(good))

	bad := *good
	bad.RoomKey = "room key"
	assert.Equal(t, CodeInvalidPayload, CodeOf(ValidateStruct(&bad)))

	bad = *good
	bad.DisplayName = " alice"
	assert.Error(t, ValidateStruct(&bad))

	bad = *good
	bad.Fingerprint = "short"
	assert.Error(t, ValidateStruct(&bad))
}

func TestNormalizeDeviceKind(t *testing.T) {
	assert.Equal(t, DeviceMobile, NormalizeDeviceKind("mobile"))
	assert.Equal(t, DeviceUnknown, NormalizeDeviceKind("fridge"))
	assert.Equal(t, DeviceUnknown, NormalizeDeviceKind(""))
}
