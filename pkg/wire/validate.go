package wire

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Validation bounds shared by every inbound path.
const (
	RoomKeyMinLen     = 6
	RoomKeyMaxLen     = 50
	DisplayNameMaxLen = 50
	TextMaxLen        = 50_000
	TextMaxLineLen    = 10_000
	TextMaxLines      = 1_000
	FilenameMaxLen    = 255
	MaxFileSize       = 100 << 20 // 100 MiB
	// MaxModifiedSkew bounds how far a declared file mtime may drift from
	// server time in either direction.
	MaxModifiedSkew = 48 * time.Hour
)

var roomKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Registration can only fail for empty tags; panic keeps the invariant
	// visible at init.
	if err := v.RegisterValidation("roomkey", func(fl validator.FieldLevel) bool {
		return ValidRoomKey(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("displayname", func(fl validator.FieldLevel) bool {
		return ValidDisplayName(fl.Field().String())
	}); err != nil {
		panic(err)
	}

	return v
}

// ValidateStruct checks a payload against its validate tags and returns an
// invalid_payload wire error on failure.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return NewError(CodeInvalidPayload, err.Error())
	}
	return nil
}

// ValidRoomKey reports whether key is a well-formed room key: 6-50 chars of
// [A-Za-z0-9_-] containing at least one letter and at least one digit.
func ValidRoomKey(key string) bool {
	if len(key) < RoomKeyMinLen || len(key) > RoomKeyMaxLen {
		return false
	}
	if !roomKeyPattern.MatchString(key) {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range key {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// ValidDisplayName reports whether name is acceptable: 1-50 runes, visible
// printable ASCII or CJK, and no leading or trailing whitespace.
func ValidDisplayName(name string) bool {
	if name == "" || strings.TrimSpace(name) != name {
		return false
	}
	runes := []rune(name)
	if len(runes) > DisplayNameMaxLen {
		return false
	}
	for _, r := range runes {
		if !displayNameRune(r) {
			return false
		}
	}
	return true
}

// displayNameRune admits visible printable ASCII, the space character
// (interior only, enforced by the trim check above), and the CJK ranges.
func displayNameRune(r rune) bool {
	if r >= 0x20 && r <= 0x7e {
		return true
	}
	switch {
	case r >= 0x4e00 && r <= 0x9fff: // CJK unified
		return true
	case r >= 0x3400 && r <= 0x4dbf: // CJK extension A
		return true
	case r >= 0x3040 && r <= 0x30ff: // hiragana, katakana
		return true
	case r >= 0xac00 && r <= 0xd7af: // hangul
		return true
	case r >= 0xff00 && r <= 0xffef: // fullwidth forms
		return true
	}
	return false
}

// ValidateText checks text message content bounds.
func ValidateText(content string) error {
	n := len([]rune(content))
	if n < 1 || n > TextMaxLen {
		return NewError(CodeInvalidPayload, "text length out of bounds")
	}
	lines := strings.Split(content, "\n")
	if len(lines) > TextMaxLines {
		return NewError(CodeInvalidPayload, "too many lines")
	}
	for _, line := range lines {
		if len([]rune(line)) > TextMaxLineLen {
			return NewError(CodeInvalidPayload, "line too long")
		}
	}
	return nil
}

// ValidateFileInfo checks the declared file metadata of a file-kind message.
func ValidateFileInfo(fi *FileInfo, now time.Time) error {
	if fi == nil {
		return NewError(CodeInvalidPayload, "file info required for file messages")
	}
	if fi.Name == "" || len(fi.Name) > FilenameMaxLen {
		return NewError(CodeInvalidPayload, "filename length out of bounds")
	}
	if strings.ContainsAny(fi.Name, "/\\") || strings.ContainsRune(fi.Name, 0) {
		return NewError(CodeInvalidPayload, "filename contains path characters")
	}
	if fi.Size < 0 || fi.Size > MaxFileSize {
		return NewError(CodeFileTooLarge, "file exceeds size limit")
	}
	if !fi.LastModified.IsZero() {
		skew := now.Sub(fi.LastModified)
		if skew < -MaxModifiedSkew || skew > MaxModifiedSkew {
			return NewError(CodeInvalidPayload, "file modification time out of range")
		}
	}
	return nil
}

// ValidateSendMessage enforces the kind-specific exclusivity rules of
// sendMessage payloads.
func ValidateSendMessage(p *SendMessagePayload, now time.Time) error {
	if err := ValidateStruct(p); err != nil {
		return err
	}
	switch p.Kind {
	case MessageText:
		if p.File != nil {
			return NewError(CodeInvalidPayload, "text messages cannot carry a file")
		}
		return ValidateText(p.Content)
	case MessageFile:
		if p.Content != "" {
			return NewError(CodeInvalidPayload, "file messages cannot carry text content")
		}
		return ValidateFileInfo(p.File, now)
	default:
		return NewError(CodeInvalidPayload, "unknown message kind")
	}
}

// NormalizeDeviceKind maps unrecognized device kinds to DeviceUnknown.
func NormalizeDeviceKind(k DeviceKind) DeviceKind {
	switch k {
	case DeviceMobile, DeviceDesktop, DeviceTablet:
		return k
	default:
		return DeviceUnknown
	}
}
