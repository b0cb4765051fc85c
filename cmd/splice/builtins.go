package main

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// builtins are the Go functions IR files and manifests can refer to by
// name.
var builtins = map[string]any{
	"errors.New":        errors.New,
	"math.Abs":          math.Abs,
	"math.Max":          math.Max,
	"math.Sqrt":         math.Sqrt,
	"strconv.Atoi":      strconv.Atoi,
	"strconv.Itoa":      strconv.Itoa,
	"strconv.Quote":     strconv.Quote,
	"strings.Contains":  strings.Contains,
	"strings.Repeat":    strings.Repeat,
	"strings.ToLower":   strings.ToLower,
	"strings.ToUpper":   strings.ToUpper,
	"strings.TrimSpace": strings.TrimSpace,
}
