package imag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"quotesbot/internal/domain"
)

// apiQuote is the JSON shape of a quote in /api/image/<id>, /api/search and
// /api/all responses.
type apiQuote struct {
	IID     int       `json:"iid"`
	Desc    string    `json:"desc"`
	Score   int       `json:"score"`
	Created Timestamp `json:"created"`
	Edited  Timestamp `json:"edited"`
	OCR     string    `json:"ocr"`
}

func (q apiQuote) toDomain() domain.Quote {
	return domain.Quote{
		ID:          q.IID,
		Description: q.Desc,
		Score:       q.Score,
		Created:     q.Created.Time,
		Edited:      q.Edited.Time,
		OCR:         q.OCR,
	}
}

// Timestamp decodes repository timestamps. The service reports Unix seconds
// (possibly fractional), but RFC 3339 strings and numeric strings are accepted
// too. null decodes to the zero time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			t.Time = unixFloat(f)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("imag: invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("imag: invalid timestamp %s: %w", data, err)
	}
	t.Time = unixFloat(f)
	return nil
}

func unixFloat(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
