package catalog

import (
	"net/url"
	"time"

	"github.com/hitoshi/campushub/internal/model"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// validate は必須項目と形式を検証し、問題のある項目をまとめて返す。
func validate(r model.EventRecord) error {
	var fields []string

	if r.Title == "" {
		fields = append(fields, "title")
	}
	if r.Date == "" {
		fields = append(fields, "date")
	} else if _, err := time.Parse(dateLayout, r.Date); err != nil {
		fields = append(fields, "date")
	}
	if r.Time != "" {
		if _, err := time.Parse(timeLayout, r.Time); err != nil {
			fields = append(fields, "time")
		}
	}
	if r.RegistrationLink != "" && !isAbsoluteHTTPURL(r.RegistrationLink) {
		fields = append(fields, "registrationLink")
	}

	if len(fields) > 0 {
		return model.NewValidationError(fields)
	}
	return nil
}

// ValidDate はYYYY-MM-DD形式の暦日かどうかを返す。
func ValidDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
