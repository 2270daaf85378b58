package shepherd

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func replaceIfEmpty(v string, s string) string {
	if v == "" {
		return s
	}

	return v
}

func returnError(err error) string {
	if err != nil {
		return err.Error()
	}

	return ""
}

// shardRange expands a range string such as "0-4,6-7" into the shard ids
// it covers. Sections that cannot be parsed or fall outside [0, max)
// are skipped.
func shardRange(s string, max int32) []int32 {
	result := make([]int32, 0, max)

	for _, section := range strings.Split(s, ",") {
		bounds := strings.SplitN(strings.TrimSpace(section), "-", 2)

		low, err := strconv.ParseInt(bounds[0], 10, 32)
		if err != nil {
			continue
		}

		high := low

		if len(bounds) == 2 {
			high, err = strconv.ParseInt(bounds[1], 10, 32)
			if err != nil {
				continue
			}
		}

		for id := low; id <= high; id++ {
			if id >= 0 && int32(id) < max {
				result = append(result, int32(id))
			}
		}
	}

	return result
}
