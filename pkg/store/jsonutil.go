package store

import "encoding/json"

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Every value passed to toJSON in this package is a plain struct/slice
		// of strings — a marshal failure here means a programming error, not
		// a runtime condition callers can recover from.
		panic("store: marshal: " + err.Error())
	}
	return string(b)
}

func fromJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}
