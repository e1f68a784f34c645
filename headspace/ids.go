package headspace

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	packURLPattern   = regexp.MustCompile(`my\.headspace\.com/modes/(?:meditate|focus)/content/([0-9]+)`)
	playerURLPattern = regexp.MustCompile(`my\.headspace\.com/player/([0-9]+)`)
)

// ParsePackURL extracts the content id from a pack URL such as
// https://my.headspace.com/modes/meditate/content/151. ok is false when the
// URL carries no id.
func ParsePackURL(raw string) (id int, ok bool) {
	return lastID(packURLPattern, raw)
}

// PlayerRef points at one entry of a pack opened in the web player.
type PlayerRef struct {
	PackID     int
	StartIndex int
}

// ParsePlayerURL extracts the pack id and startIndex from a player URL such
// as https://my.headspace.com/player/204?authorId=1&startIndex=2.
func ParsePlayerURL(raw string) (PlayerRef, bool) {
	id, ok := lastID(playerURLPattern, raw)
	if !ok {
		return PlayerRef{}, false
	}

	ref := PlayerRef{PackID: id}
	if u, err := url.Parse(raw); err == nil {
		if v := u.Query().Get("startIndex"); v != "" {
			idx, err := strconv.Atoi(v)
			if err != nil || idx < 0 {
				return PlayerRef{}, false
			}
			ref.StartIndex = idx
		}
	}
	return ref, true
}

func lastID(re *regexp.Regexp, raw string) (int, bool) {
	matches := re.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return 0, false
	}
	id, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0, false
	}
	return id, true
}

// ParseExcludeList reads one pack URL per line. It returns the content ids
// it understood and the non-blank lines it could not parse.
func ParseExcludeList(r io.Reader) (ids []int, unparsed []string, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if id, ok := ParsePackURL(line); ok {
			ids = append(ids, id)
		} else {
			unparsed = append(unparsed, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read exclude list: %w", err)
	}
	return ids, unparsed, nil
}
