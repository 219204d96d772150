package handler

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"contextkeeper/internal/errs"
	"contextkeeper/internal/model"
)

func pageParams(c *gin.Context) (int, int, error) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Invalid("%s must be an integer", key)
	}
	return n, nil
}

// decodeContext accepts a JSON string, or a JSON array of strings which is
// stored as passages.
func decodeContext(raw json.RawMessage, ctxType string) (string, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ctxType, nil
	}
	if raw[0] == '[' {
		var passages []string
		if err := json.Unmarshal(raw, &passages); err != nil {
			return "", "", errs.ErrInvalidContextFormat
		}
		encoded, err := json.Marshal(passages)
		if err != nil {
			return "", "", err
		}
		if ctxType == "" {
			ctxType = model.ContextTypePassages
		}
		return string(encoded), ctxType, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", "", errs.ErrInvalidContextFormat
	}
	return text, ctxType, nil
}
