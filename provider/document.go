package provider

import (
	"strings"

	"github.com/ceyewan/bulwark/xerrors"
)

// ErrInvalidDocument 登记号格式或校验位错误
var ErrInvalidDocument = xerrors.New("provider: invalid document number")

// NormalizeCNPJ 去除标点并校验 14 位 CNPJ 的两位校验位
func NormalizeCNPJ(s string) (string, error) {
	d := digits(s)
	if len(d) != 14 || repeated(d) {
		return "", xerrors.Wrapf(ErrInvalidDocument, "cnpj %q", s)
	}
	w1 := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	if checkDigit(d[:12], w1) != int(d[12]-'0') || checkDigit(d[:13], w2) != int(d[13]-'0') {
		return "", xerrors.Wrapf(ErrInvalidDocument, "cnpj %q: check digits", s)
	}
	return d, nil
}

// NormalizeCPF 去除标点并校验 11 位 CPF 的两位校验位
func NormalizeCPF(s string) (string, error) {
	d := digits(s)
	if len(d) != 11 || repeated(d) {
		return "", xerrors.Wrapf(ErrInvalidDocument, "cpf %q", s)
	}
	w1 := []int{10, 9, 8, 7, 6, 5, 4, 3, 2}
	w2 := []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}
	if checkDigit(d[:9], w1) != int(d[9]-'0') || checkDigit(d[:10], w2) != int(d[10]-'0') {
		return "", xerrors.Wrapf(ErrInvalidDocument, "cpf %q: check digits", s)
	}
	return d, nil
}

// NormalizeTaxID 接受 CNPJ 或 CPF
func NormalizeTaxID(s string) (string, error) {
	if len(digits(s)) == 11 {
		return NormalizeCPF(s)
	}
	return NormalizeCNPJ(s)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '/' || r == ' ':
		default:
			// 非法字符直接使长度校验失败
			return ""
		}
	}
	return b.String()
}

func repeated(d string) bool {
	return strings.Count(d, d[:1]) == len(d)
}

func checkDigit(d string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(d[i]-'0') * w
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}
