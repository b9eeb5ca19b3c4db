package mawaqit

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/prayersync/internal/model"
)

// confDataMarker はモスクページのscript内で設定オブジェクトを保持する変数名。
const confDataMarker = "confData"

// ExtractConfData はモスクページのHTMLから `confData = {...}` のJSONオブジェクトを抽出する。
// scriptタグのテキストのみを対象とし、見つからない場合や
// JSONとして不正な場合は *model.ParseError を返す。
func ExtractConfData(htmlBody []byte) ([]byte, error) {
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inScript := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return nil, &model.ParseError{Field: confDataMarker, Err: errors.New("モスクページにconfDataが見つかりません")}

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			inScript = string(tn) == "script"

		case html.EndTagToken:
			inScript = false

		case html.TextToken:
			if !inScript {
				continue
			}
			text := string(tokenizer.Text())
			obj, found, err := findAssignedObject(text, confDataMarker)
			if !found {
				continue
			}
			if err != nil {
				return nil, &model.ParseError{Field: confDataMarker, Err: err}
			}
			if !json.Valid([]byte(obj)) {
				return nil, &model.ParseError{Field: confDataMarker, Err: errors.New("confDataが有効なJSONではありません")}
			}
			return []byte(obj), nil
		}
	}
}

// findAssignedObject はscriptテキスト中の `name = {` に続くオブジェクトリテラルを返す。
// 代入が見つからない場合はfound=falseを返す。
func findAssignedObject(script, name string) (obj string, found bool, err error) {
	offset := 0
	for {
		idx := strings.Index(script[offset:], name)
		if idx < 0 {
			return "", false, nil
		}
		pos := offset + idx + len(name)
		offset = pos

		rest := strings.TrimLeft(script[pos:], " \t\r\n")
		if !strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, "==") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t\r\n")
		if !strings.HasPrefix(rest, "{") {
			continue
		}

		end, err := matchBrace(rest)
		if err != nil {
			return "", true, err
		}
		return rest[:end+1], true, nil
	}
}

// matchBrace は先頭の '{' に対応する '}' の位置を返す。文字列リテラル内の括弧は無視する。
func matchBrace(s string) (int, error) {
	depth := 0
	var quote byte
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == quote:
				quote = 0
			}
			continue
		}

		switch ch {
		case '"', '\'':
			quote = ch
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, errors.New("confDataのオブジェクトが閉じていません")
}
