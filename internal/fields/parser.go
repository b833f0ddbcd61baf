// Package fields pulls labelled values out of the text of Portuguese
// equipment-responsibility forms.
package fields

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docintake/internal/entity"
)

// Label patterns run on folded text with (?s) so values may wrap lines.
// Variants cover common OCR misreads.
var (
	reName     = regexp.MustCompile(`(?s)empregad[oa]\s*:\s*(.*?)\s*matr[il1]cula\s*:`)
	reRegistry = regexp.MustCompile(`(?s)matr[il1]cula\s*:\s*(.*?)\s*fun[cg]ao\s*:`)
	reRole     = regexp.MustCompile(`(?s)fun[cg]ao\s*:\s*(.*?)(?:\s*r\.\s*g\.|\s*empregador\s*:|\n|$)`)
	reIDA      = regexp.MustCompile(`(?s)r\.\s*g\.\s*n[o.]?\s*:\s*(.*?)\s*empregador\s*:`)
	reEmployer = regexp.MustCompile(`(?s)empregador\s*:\s*(.*?)\s*cpf\s*:`)
	reIDB      = regexp.MustCompile(`(?s)cpf\s*:\s*(.*?)\s*\(\s*\)`)
	reDate     = regexp.MustCompile(`,\s*(\d{1,2})\s+de\s+([a-z]+)\s+de\s+(\d{4})`)

	reEquipBlock  = regexp.MustCompile(`(?s)ferramentas\s*:\s*(.*?)\s*declaro`)
	reEquipLine   = regexp.MustCompile(`equipamento\s*:`)
	reEquipPrefix = regexp.MustCompile(`^\s*equipamento\s*:\s*`)
	reIMEI        = regexp.MustCompile(`imei\s*:\s*(\S+)`)
	reAssetTag    = regexp.MustCompile(`patrimonio\s*:\s*(\S+)`)
	reSpaces      = regexp.MustCompile(`\s+`)
)

type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse extracts every recognised field from text. Missing labels leave the
// corresponding field nil. Values keep their original case and accents.
func (p *Parser) Parse(text string) entity.Fields {
	f := fold(text)
	out := entity.Fields{
		Name:           capture(f, reName),
		RegistrationID: capture(f, reRegistry),
		Role:           capture(f, reRole),
		NationalIDA:    capture(f, reIDA),
		Employer:       capture(f, reEmployer),
		NationalIDB:    capture(f, reIDB),
		DocumentDate:   p.date(f),
	}
	p.equipment(f, &out)
	return out
}

func capture(f folded, re *regexp.Regexp) *string {
	m := re.FindStringSubmatchIndex(f.text)
	if m == nil {
		return nil
	}
	v := strings.TrimSpace(f.span(m[2], m[3]))
	if v == "" {
		return nil
	}
	return &v
}

func (p *Parser) date(f folded) *string {
	m := reDate.FindStringSubmatch(f.text)
	if m == nil {
		return nil
	}
	d, ok := formatDate(m[1], m[2], m[3])
	if !ok {
		p.logger.Warn("unrecognised document date", "day", m[1], "month", m[2], "year", m[3])
		return nil
	}
	return &d
}

// equipment reads the list between "ferramentas:" and "declaro" or, when the
// form has no such block, every line carrying an "equipamento:" label.
func (p *Parser) equipment(f folded, out *entity.Fields) {
	var lines []string
	if m := reEquipBlock.FindStringSubmatchIndex(f.text); m != nil {
		lines = strings.Split(f.span(m[2], m[3]), "\n")
	} else {
		for _, line := range strings.Split(f.orig, "\n") {
			if reEquipLine.MatchString(fold(line).text) {
				lines = append(lines, line)
			}
		}
	}

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		item, ok := parseEquipmentLine(line)
		if item.Serial != nil {
			out.SerialTags = append(out.SerialTags, *item.Serial)
		}
		if item.AssetTag != nil {
			out.AssetTags = append(out.AssetTags, *item.AssetTag)
		}
		if ok {
			out.Equipment = append(out.Equipment, item)
		}
	}
}

// parseEquipmentLine removes the IMEI and patrimonio tags, then the leading
// "equipamento:" label; what remains is the equipment name. ok is false when
// nothing remains.
func parseEquipmentLine(line string) (entity.Equipment, bool) {
	f := fold(line)
	var (
		item entity.Equipment
		cut  [][2]int
	)
	for _, tag := range []struct {
		re  *regexp.Regexp
		dst **string
	}{{reIMEI, &item.Serial}, {reAssetTag, &item.AssetTag}} {
		all := tag.re.FindAllStringSubmatchIndex(f.text, -1)
		if len(all) == 0 {
			continue
		}
		v := f.span(all[0][2], all[0][3])
		*tag.dst = &v
		for _, m := range all {
			a, b := f.origRange(m[0], m[1])
			cut = append(cut, [2]int{a, b})
		}
	}

	rest := strings.TrimSpace(removeRanges(line, cut))
	rf := fold(rest)
	if m := reEquipPrefix.FindStringIndex(rf.text); m != nil {
		_, b := rf.origRange(m[0], m[1])
		rest = rest[b:]
	}
	item.Name = strings.TrimSpace(reSpaces.ReplaceAllString(rest, " "))
	return item, item.Name != ""
}

func removeRanges(s string, cut [][2]int) string {
	sort.Slice(cut, func(i, j int) bool { return cut[i][0] < cut[j][0] })
	var b strings.Builder
	pos := 0
	for _, c := range cut {
		if c[0] > pos {
			b.WriteString(s[pos:c[0]])
		}
		if c[1] > pos {
			pos = c[1]
		}
	}
	if pos < len(s) {
		b.WriteString(s[pos:])
	}
	return b.String()
}
