package orm

import "testing"

func TestAliasAllocator(t *testing.T) {
	a := NewAliasAllocator()
	a.Reserve("ZOO")

	tests := []struct {
		table string
		want  string
	}{
		{"animals", "ani"},
		{"animal_keepers", "ani1"},
		{"Animals", "ani2"},
		{"zoos", "zoo1"},
		{"keepers", "kee"},
		{"x", "x"},
		{"_2fa_codes", "fac"},
		{"t1_log", "t1l"},
		{"___", "t"},
		{"42", "t1"},
	}
	for _, tt := range tests {
		if got := a.Next(tt.table); got != tt.want {
			t.Errorf("Next(%q) = %q, want %q", tt.table, got, tt.want)
		}
	}
}

func TestForeignKeyName(t *testing.T) {
	if got := ForeignKeyName("animals", "zoo_id", "zoos"); got != "FK_animals_zoo_id_zoos" {
		t.Errorf("ForeignKeyName() = %q", got)
	}
}
