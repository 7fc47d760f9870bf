package policy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/jwalitptl/medbooking/pkg/errors"
)

func TestCanBook(t *testing.T) {
	pol := New()
	patient, doctor := uuid.New(), uuid.New()

	tests := []struct {
		name string
		p    Principal
		want bool
	}{
		{"patient for self", Principal{ID: patient, Role: RolePatient}, true},
		{"patient for other", Principal{ID: uuid.New(), Role: RolePatient}, false},
		{"doctor for self", Principal{ID: doctor, Role: RoleDoctor}, true},
		{"other doctor", Principal{ID: uuid.New(), Role: RoleDoctor}, false},
		{"admin", Principal{ID: uuid.New(), Role: RoleAdmin}, true},
		{"unknown role", Principal{ID: patient, Role: "nurse"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pol.CanBook(tt.p, patient, doctor))
		})
	}
}

func TestCanConfirmOnlyOwningDoctor(t *testing.T) {
	pol := New()
	doctor := uuid.New()

	assert.True(t, pol.CanConfirm(Principal{ID: doctor, Role: RoleDoctor}, doctor))
	assert.False(t, pol.CanConfirm(Principal{ID: uuid.New(), Role: RoleDoctor}, doctor))
	assert.False(t, pol.CanConfirm(Principal{ID: doctor, Role: RolePatient}, doctor))
	assert.True(t, pol.CanConfirm(System, doctor))
}

func TestPaymentCapabilities(t *testing.T) {
	pol := New()
	payer := uuid.New()

	assert.True(t, pol.CanManagePayment(Principal{ID: uuid.New(), Role: RoleDoctor}))
	assert.True(t, pol.CanManagePayment(System))
	assert.False(t, pol.CanManagePayment(Principal{ID: payer, Role: RolePatient}))

	assert.True(t, pol.CanOwnPayment(Principal{ID: payer, Role: RolePatient}, payer))
	assert.False(t, pol.CanOwnPayment(Principal{ID: uuid.New(), Role: RoleDoctor}, payer))
	assert.True(t, pol.CanOwnPayment(Principal{ID: uuid.New(), Role: RoleAdmin}, payer))
}

func TestCanSeeReport(t *testing.T) {
	pol := New()
	author := uuid.New()
	hidden := ReportView{AuthorID: author, VisibleToPatient: false, VisibleToDoctor: true}

	assert.True(t, pol.CanSeeReport(Principal{ID: author, Role: RolePatient}, hidden))
	assert.False(t, pol.CanSeeReport(Principal{ID: uuid.New(), Role: RolePatient}, hidden))
	assert.True(t, pol.CanSeeReport(Principal{ID: uuid.New(), Role: RoleDoctor}, hidden))
	assert.True(t, pol.CanSeeReport(Principal{ID: uuid.New(), Role: RoleAdmin}, hidden))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	p := Principal{ID: uuid.New(), Role: RoleDoctor, Email: "d@example.com"}
	got, ok := FromContext(WithPrincipal(context.Background(), p))
	assert.True(t, ok)
	assert.Equal(t, p, got)

	actor := p.Actor()
	assert.Equal(t, "doctor", actor.Role)
	assert.Equal(t, p.ID, *actor.ID)
	assert.Nil(t, System.Actor().ID)
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require(true, "x"))
	err := RequireAdmin(Principal{Role: RolePatient})
	assert.True(t, apperrors.Is(err, apperrors.KindAuthorization))
}
