package confchange

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyAddNonVoter(t *testing.T) {
	base := Config{Members: []Member{{ID: 1, Role: Voter}}}
	out := Apply(base, Change{Type: AddNonVoter, ID: 2, Address: "10.0.0.2:7000"})

	require.Len(t, out.Members, 2)
	require.Equal(t, Member{ID: 2, Address: "10.0.0.2:7000", Role: NonVoter}, out.Members[1])
}

func TestApplyPromoteFlipsRole(t *testing.T) {
	base := Config{Members: []Member{
		{ID: 1, Role: Voter},
		{ID: 2, Role: NonVoter},
	}}
	out := Apply(base, Change{Type: Promote, ID: 2})

	require.Equal(t, Voter, out.Members[1].Role)
}

func TestApplyPromoteUnknownIDIsIgnored(t *testing.T) {
	base := Config{Members: []Member{{ID: 1, Role: Voter}}}
	out := Apply(base, Change{Type: Promote, ID: 99})

	require.Len(t, out.Members, 1)
}

func TestApplyRemoveDropsMember(t *testing.T) {
	base := Config{Members: []Member{
		{ID: 1, Role: Voter},
		{ID: 2, Role: Voter},
	}}
	out := Apply(base, Change{Type: Remove, ID: 2})

	require.Len(t, out.Members, 1)
	require.Equal(t, uint64(1), out.Members[0].ID)
}

func TestApplyIsOrderedByID(t *testing.T) {
	base := Config{}
	out := Apply(base,
		Change{Type: AddNonVoter, ID: 3},
		Change{Type: AddNonVoter, ID: 1},
		Change{Type: AddNonVoter, ID: 2},
	)

	require.Equal(t, []uint64{1, 2, 3}, []uint64{out.Members[0].ID, out.Members[1].ID, out.Members[2].ID})
}

func TestApplyChangesInSequence(t *testing.T) {
	base := Config{Members: []Member{{ID: 1, Role: Voter}}}
	out := Apply(base,
		Change{Type: AddNonVoter, ID: 2},
		Change{Type: Promote, ID: 2},
		Change{Type: Remove, ID: 1},
	)

	require.Len(t, out.Members, 1)
	require.Equal(t, Member{ID: 2, Role: Voter}, out.Members[0])
}
