package parser

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDecimalComma(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"12,50", "12.50"},
		{"Lunch, 12,50, 5", "Lunch, 12.50, 5"},
		{"Almoço,12,50,5", "Almoço,12.50,5"},
		{"1,234", "1,234"},
		{"a, 10, 25", "a, 10, 25"},
		{"0,99", "0.99"},
		{"1.500,00", "1500.00"},
		{"Aluguel, 1.500,00, 5", "Aluguel, 1500.00, 5"},
		{"R$ 1.234.567,89", "R$ 1234567.89"},
		{"1.500", "1.500"},
		{"no numbers", "no numbers"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeDecimalComma(tc.in), "in=%q", tc.in)
	}
}

func TestExtractValue(t *testing.T) {
	cases := []struct {
		name     string
		fragment string
		want     string
	}{
		{name: "integer", fragment: "50", want: "50"},
		{name: "decimal comma", fragment: "12,50", want: "12.50"},
		{name: "decimal point", fragment: "9.5", want: "9.5"},
		{name: "currency prefix", fragment: "R$ 30,00", want: "30"},
		{name: "negative", fragment: "-15", want: "-15"},
		{name: "explicit plus", fragment: "+7,25", want: "7.25"},
		{name: "first numeral wins", fragment: "3 por 10", want: "3"},
		{name: "thousands dot", fragment: "R$ 1.500,00", want: "1500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractValue(tc.fragment)
			require.NoError(t, err)
			require.True(t, decimal.RequireFromString(tc.want).Equal(got), "got %s", got)
		})
	}
}

func TestExtractValue_NoNumeral(t *testing.T) {
	_, err := ExtractValue("twelve")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformed))

	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, KindMalformed, perr.Kind)
	require.Equal(t, "twelve", perr.Input)
}

func TestExtractValue_CommaPairsMatchDecimalReading(t *testing.T) {
	for _, fragment := range []string{"0,01", "12,50", "999,99", "1000,10"} {
		got, err := ExtractValue(NormalizeDecimalComma(fragment))
		require.NoError(t, err)
		want := decimal.RequireFromString(NormalizeDecimalComma(fragment))
		require.True(t, want.Equal(got), "fragment=%q", fragment)
	}
}
