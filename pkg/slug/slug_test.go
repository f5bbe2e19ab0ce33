package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "hello-world"},
		{"ALL UPPER CASE", "all-upper-case"},
		{"Subḥān Allāh", "subhan-allah"},
		{"SUBHAN ALLAH", "subhan-allah"},
		{"Al-Ḥamdu lillāh", "al-hamdu-lillah"},
		{"Duʿāʾ al-Qunūt", "dua-al-qunut"},
		{"Du'a for Anxiety", "dua-for-anxiety"},
		{"Ayat al-Kursī", "ayat-al-kursi"},
		{"Ḏikr", "dhikr"},
		{"Şeker Bayramı", "seker-bayrami"},
		{"İstanbul", "istanbul"},
		{"  Astaghfirullah!!  ", "astaghfirullah"},
		{"33 x tasbih", "33-x-tasbih"},
		{"a -- b", "a-b"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Generate(tt.input))
		})
	}
}

func TestGenerate_Empty(t *testing.T) {
	assert.Equal(t, "", Generate(""))
	assert.Equal(t, "", Generate("   "))
	assert.Equal(t, "", Generate("!!!"))
	assert.Equal(t, "", Generate("ʿʾ"))
}

func TestGenerate_Idempotent(t *testing.T) {
	for _, in := range []string{"Subḥān Allāh", "dua-al-qunut", "Şeker Bayramı"} {
		once := Generate(in)
		assert.Equal(t, once, Generate(once))
	}
}
