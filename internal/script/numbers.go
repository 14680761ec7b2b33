package script

import (
	"strconv"
	"strings"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// NumberBaseThousand represents the base for thousands.
	NumberBaseThousand = 1000
	// NumberBaseMillion represents the base for millions.
	NumberBaseMillion = 1000000
	// MaxNumberForWords is the largest number spelled out; larger ones are left as digits.
	MaxNumberForWords = 999999999
)

var (
	onesWords = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teensWords = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tensWords = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// IntegerToWords spells out number in English.
func IntegerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	remaining := number

	if millions := remaining / NumberBaseMillion; millions > 0 {
		parts = append(parts, underThousand(millions)+" million")
		remaining %= NumberBaseMillion
	}

	if thousands := remaining / NumberBaseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
		remaining %= NumberBaseThousand
	}

	if remaining > 0 {
		parts = append(parts, underThousand(remaining))
	}

	return strings.Join(parts, " ")
}

func underThousand(num int) string {
	if num < NumberBaseHundred {
		return underHundred(num)
	}

	result := onesWords[num/NumberBaseHundred] + " hundred"

	if remainder := num % NumberBaseHundred; remainder > 0 {
		result += " " + underHundred(remainder)
	}

	return result
}

func underHundred(num int) string {
	switch {
	case num < NumberBaseTen:
		return onesWords[num]
	case num < NumberBaseTwenty:
		return teensWords[num-NumberBaseTen]
	}

	result := tensWords[num/NumberBaseTen]
	if num%NumberBaseTen > 0 {
		result += " " + onesWords[num%NumberBaseTen]
	}

	return result
}
