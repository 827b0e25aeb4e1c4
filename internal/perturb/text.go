package perturb

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an this that these those it its they them their there here we our us you your
		in on of for with and but or nor so yet to from into onto over under about after before between through during
		is are was were be been being has have had do does did can could may might must shall should will would
		however moreover furthermore also additionally thus hence therefore still then than which what when where while who whom
		although though because since unless whether such each every some many most more less much very just only other another
		both either neither all any few several first second overall notably indeed`) {
		stopwords[w] = struct{}{}
	}
}

var auxiliaries = map[string]struct{}{
	"was": {}, "were": {}, "is": {}, "are": {}, "be": {}, "been": {}, "being": {},
	"has": {}, "have": {}, "had": {}, "am": {}, "get": {}, "got": {},
}

var pronouns = []string{"It", "This", "They", "These"}

// LeadTerm 返回句子中第一个实义词（小写、去标点）；找不到返回空串。
func LeadTerm(s string) string {
	for _, w := range strings.Fields(s) {
		t := strings.ToLower(strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) }))
		if utf8.RuneCountInString(t) < 4 {
			continue
		}
		if strings.ContainsFunc(t, func(r rune) bool { return !unicode.IsLetter(r) && r != '-' }) {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		return t
	}
	return ""
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// canLower: 首字母大写且首词不是 "I"/缩写（如 "UN"、"I'm"）。
func canLower(s string) bool {
	w := firstWord(s)
	if w == "" {
		return false
	}
	r, size := utf8.DecodeRuneInString(w)
	if !unicode.IsUpper(r) {
		return false
	}
	if w == "I" || strings.HasPrefix(w, "I'") {
		return false
	}
	if size < len(w) {
		if r2, _ := utf8.DecodeRuneInString(w[size:]); unicode.IsUpper(r2) {
			return false
		}
	}
	return true
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// leadingPhrase 返回句首匹配的过渡短语（需后随逗号）；大小写不敏感。
func leadingPhrase(s string, phrases []string) string {
	for _, ph := range phrases {
		if len(s) > len(ph) && strings.EqualFold(s[:len(ph)], ph) && s[len(ph)] == ',' {
			return s[:len(ph)]
		}
	}
	return ""
}

func isAlnum(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// fragmentCut 在最后一个逗号处切出尾部碎片句；两侧词数不足时不切。
func fragmentCut(s string) (head, tail string, ok bool) {
	i := strings.LastIndex(s, ", ")
	if i < 0 {
		return "", "", false
	}
	h := strings.TrimSpace(s[:i])
	t := strings.TrimSpace(s[i+2:])
	if len(strings.Fields(h)) < 3 || len(strings.Fields(t)) < 2 {
		return "", "", false
	}
	return h + ".", upperFirst(t), true
}

func pronounSubject(s string) string {
	for _, p := range pronouns {
		if strings.HasPrefix(s, p+" ") {
			return p
		}
	}
	return ""
}

// passiveSlot 返回首个疑似过去分词（-ed，且前一词不是助动词）的词下标；无则 -1。
func passiveSlot(s string) int {
	ws := strings.Fields(s)
	for i := 1; i < len(ws); i++ {
		w := strings.ToLower(strings.TrimFunc(ws[i], func(r rune) bool { return !unicode.IsLetter(r) }))
		if len(w) < 5 || !strings.HasSuffix(w, "ed") {
			continue
		}
		prev := strings.ToLower(strings.TrimFunc(ws[i-1], func(r rune) bool { return !unicode.IsLetter(r) }))
		if _, aux := auxiliaries[prev]; aux {
			return -1
		}
		return i
	}
	return -1
}
