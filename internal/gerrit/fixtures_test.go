package gerrit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const trailerZero = `{"type":"stats","rowCount":0,"runTimeMilliseconds":3,"moreChanges":false}`

func trailer(n int) string {
	return fmt.Sprintf(`{"type":"stats","rowCount":%d,"runTimeMilliseconds":7,"moreChanges":false}`, n)
}

// fixture builds `gerrit query` change records
type fixture struct {
	project     string
	number      int
	lastUpdated int64
	patchSet    int
	verified    []int // VRIF values on the current patch set
	reviewed    []int // CRVW values on the current patch set
	oldVerified []int // VRIF values on patch set 1 when patchSet > 1
}

func changeID(number int) string {
	return "I" + strings.Repeat(fmt.Sprintf("%04x", number), 10)
}

func revision(number, ps int) string {
	return strings.Repeat(fmt.Sprintf("%02x", (number+ps)%256), 20)
}

func approvals(code string, values []int, grantedOn int64) []map[string]any {
	var out []map[string]any
	for _, v := range values {
		out = append(out, map[string]any{
			"type":        code,
			"description": code,
			"value":       strconv.Itoa(v),
			"grantedOn":   grantedOn,
			"by":          map[string]any{"name": "Jenkins", "email": "ci@example.com", "username": "jenkins"},
		})
	}
	return out
}

func (f fixture) patchSetMap(n int, current bool) map[string]any {
	ps := map[string]any{
		"number":    n,
		"revision":  revision(f.number, n),
		"parents":   []string{strings.Repeat("ab", 20)},
		"ref":       fmt.Sprintf("refs/changes/%02d/%d/%d", f.number%100, f.number, n),
		"uploader":  map[string]any{"name": "Alice", "email": "alice@example.com"},
		"createdOn": f.lastUpdated - 100,
		"files": []map[string]any{
			{"file": "/COMMIT_MSG", "type": "ADDED", "insertions": 10, "deletions": 0},
			{"file": "src/main.go", "type": "MODIFIED", "insertions": 3, "deletions": 1},
		},
	}

	var as []map[string]any
	if current {
		as = append(as, approvals("VRIF", f.verified, f.lastUpdated)...)
		as = append(as, approvals("CRVW", f.reviewed, f.lastUpdated)...)
	} else if n == 1 {
		as = append(as, approvals("VRIF", f.oldVerified, f.lastUpdated-50)...)
	}
	if len(as) > 0 {
		ps["approvals"] = as
	}
	return ps
}

func (f fixture) line() string {
	if f.project == "" {
		f.project = "platform/build"
	}
	if f.patchSet == 0 {
		f.patchSet = 1
	}
	if f.lastUpdated == 0 {
		f.lastUpdated = 1700000000 + int64(f.number)
	}

	var history []map[string]any
	for n := 1; n <= f.patchSet; n++ {
		history = append(history, f.patchSetMap(n, n == f.patchSet))
	}

	rec := map[string]any{
		"project":         f.project,
		"branch":          "main",
		"id":              changeID(f.number),
		"number":          f.number,
		"subject":         fmt.Sprintf("Change %d", f.number),
		"owner":           map[string]any{"name": "Alice", "email": "alice@example.com", "username": "alice"},
		"url":             fmt.Sprintf("https://gerrit.example.com/c/%s/+/%d", f.project, f.number),
		"commitMessage":   "Subject\n\nChange-Id: " + changeID(f.number) + "\n",
		"createdOn":       f.lastUpdated - 1000,
		"lastUpdated":     f.lastUpdated,
		"open":            true,
		"status":          "NEW",
		"currentPatchSet": f.patchSetMap(f.patchSet, true),
		"patchSets":       history,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func mustRecord(line string) RawRecord {
	rec, err := ParseRecord([]byte(line), 1)
	if err != nil {
		panic(err)
	}
	return rec
}
