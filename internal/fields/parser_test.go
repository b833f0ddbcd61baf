package fields

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `TERMO DE RESPONSABILIDADE
Empregado: Jane Roe Matricula: 555
Funcao: Tester R.G. N°: 1-2
Empregador: Acme CPF: 000.000.000-00 ( )
Equipamento: Drill IMEI: 123 Patrimonio: P9
Sao Paulo, 5 de março de 2024`

func TestParseRoundTripFixture(t *testing.T) {
	got := NewParser(nil).Parse(fixture)

	require.NotNil(t, got.Name)
	assert.Equal(t, "Jane Roe", *got.Name)
	require.NotNil(t, got.RegistrationID)
	assert.Equal(t, "555", *got.RegistrationID)
	require.NotNil(t, got.Role)
	assert.Equal(t, "Tester", *got.Role)
	require.NotNil(t, got.NationalIDA)
	assert.Equal(t, "1-2", *got.NationalIDA)
	require.NotNil(t, got.Employer)
	assert.Equal(t, "Acme", *got.Employer)
	require.NotNil(t, got.NationalIDB)
	assert.Equal(t, "000.000.000-00", *got.NationalIDB)
	require.NotNil(t, got.DocumentDate)
	assert.Equal(t, "05/03/2024", *got.DocumentDate)

	require.Len(t, got.Equipment, 1)
	eq := got.Equipment[0]
	assert.Equal(t, "Drill", eq.Name)
	require.NotNil(t, eq.Serial)
	assert.Equal(t, "123", *eq.Serial)
	require.NotNil(t, eq.AssetTag)
	assert.Equal(t, "P9", *eq.AssetTag)
	assert.Equal(t, []string{"123"}, got.SerialTags)
	assert.Equal(t, []string{"P9"}, got.AssetTags)
}

func TestParseKeepsOriginalAccents(t *testing.T) {
	text := "Empregada: João Conceição Matrícula: 7 Função: Técnica\n"
	got := NewParser(nil).Parse(text)
	require.NotNil(t, got.Name)
	assert.Equal(t, "João Conceição", *got.Name)
	require.NotNil(t, got.Role)
	assert.Equal(t, "Técnica", *got.Role)
}

func TestParseEquipmentBlock(t *testing.T) {
	text := `Descrição dos equipamentos/ferramentas:
Equipamento: Notebook Dell IMEI: 1111 Patrimonio: A-1
Celular Samsung imei: 2222

Patrimonio: B-2
Declaro que recebi os itens acima.`
	got := NewParser(nil).Parse(text)

	require.Len(t, got.Equipment, 2)
	assert.Equal(t, "Notebook Dell", got.Equipment[0].Name)
	assert.Equal(t, "1111", *got.Equipment[0].Serial)
	assert.Equal(t, "A-1", *got.Equipment[0].AssetTag)
	assert.Equal(t, "Celular Samsung", got.Equipment[1].Name)
	assert.Nil(t, got.Equipment[1].AssetTag)
	assert.Equal(t, []string{"1111", "2222"}, got.SerialTags)
	assert.Equal(t, []string{"A-1", "B-2"}, got.AssetTags)
}

func TestParseEmptyText(t *testing.T) {
	got := NewParser(nil).Parse("")
	assert.Nil(t, got.Name)
	assert.Nil(t, got.RegistrationID)
	assert.Nil(t, got.Role)
	assert.Nil(t, got.NationalIDA)
	assert.Nil(t, got.Employer)
	assert.Nil(t, got.NationalIDB)
	assert.Nil(t, got.DocumentDate)
	assert.Empty(t, got.Equipment)
	assert.Empty(t, got.AssetTags)
	assert.Empty(t, got.SerialTags)
}

func TestParseUnknownMonthLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	got := NewParser(logger).Parse("Campinas, 12 de brumario de 2023")
	assert.Nil(t, got.DocumentDate)
	assert.Contains(t, buf.String(), "unrecognised document date")
}

func TestParseIsDeterministic(t *testing.T) {
	p := NewParser(nil)
	assert.Equal(t, p.Parse(fixture), p.Parse(fixture))
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		day, month, year string
		want             string
		ok               bool
	}{
		{"5", "marco", "2024", "05/03/2024", true},
		{"31", "dezembro", "1999", "31/12/1999", true},
		{"01", "janeiro", "2020", "01/01/2020", true},
		{"5", "march", "2024", "", false},
		{"32", "maio", "2024", "", false},
	}
	for _, tt := range tests {
		got, ok := formatDate(tt.day, tt.month, tt.year)
		assert.Equal(t, tt.ok, ok, tt.month)
		assert.Equal(t, tt.want, got)
	}
}

func TestFoldOffsets(t *testing.T) {
	f := fold("Ção º1")
	assert.Equal(t, "cao 1", f.text)
	assert.Equal(t, "Ção", f.span(0, 3))
	assert.Equal(t, "º1", f.orig[f.start[3]+1:])
}
