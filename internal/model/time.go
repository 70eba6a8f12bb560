package model

import (
	"strconv"
	"time"
)

// LocalTime 以 "YYYY-MM-DD HH:MM:SS"（本地时区）格式序列化时间，用于所有对外 DTO。
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

func (t LocalTime) String() string {
	return time.Time(t).Format(timeFormat)
}

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON 解析 MarshalJSON 的输出，null 和空串解析为零值。
func (t *LocalTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*t = LocalTime{}
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return err
	}
	parsed, err := time.ParseInLocation(timeFormat, unquoted, time.Local)
	if err != nil {
		return err
	}
	*t = LocalTime(parsed)
	return nil
}
