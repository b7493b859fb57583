package domain

import "testing"

func TestProfileEligible(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		want bool
	}{
		{"active not blocked not logged out", Profile{IsActive: true}, true},
		{"blocked implies not eligible even if active", Profile{IsActive: true, IsBlocked: true}, false},
		{"logged out implies not eligible", Profile{IsActive: true, IsLoggedOut: true}, false},
		{"inactive is not eligible", Profile{IsActive: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Eligible(); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTaskClaimable(t *testing.T) {
	tests := []struct {
		name string
		tk   Task
		want bool
	}{
		{"pending with budget remaining", Task{TotalCycles: 3, CompletedCycles: 1}, true},
		{"budget exhausted", Task{TotalCycles: 3, CompletedCycles: 3}, false},
		{"blocked is never claimable even with budget", Task{TotalCycles: 3, CompletedCycles: 0, IsBlocked: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tk.Claimable(); got != tt.want {
				t.Errorf("Claimable() = %v, want %v", got, tt.want)
			}
		})
	}
}
