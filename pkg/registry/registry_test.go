package registry

import (
	"strings"
	"testing"

	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestNormalizes(t *testing.T) {
	for raw, want := range map[string]Request{
		"VOLTA":         "VOLTA()",
		"VOLTA()":       "VOLTA()",
		"ET0PE(1)":      "ET0PE(1)",
		" CURRE ":       "CURRE()",
		"VOLT (1)":      "VOLT(1)",
		"VOLT\t()":      "VOLT()",
		"_X9(a,b)":      "_X9(a,b)",
		"ABCDEFGHIJKLM": "ABCDEFGHIJKLM()",
	} {
		got, err := ParseRequest(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
}

func TestParseRequestRejects(t *testing.T) {
	for _, raw := range []string{"", "9VOLT", "VO LT()", "VOLT(a)(b)", "VOLT)"} {
		_, err := ParseRequest(raw)
		assert.ErrorIs(t, err, ErrInvalidRequest, raw)
	}
	_, err := ParseRequest("ABCDEFGHIJKLMN")
	assert.ErrorIs(t, err, ErrRequestTooLong)
	_, err = ParseRequest("ABCDEFGHIJ(123456)")
	assert.ErrorIs(t, err, ErrRequestTooLong)
}

func TestFunction(t *testing.T) {
	assert.Equal(t, "ET0PE", Request("ET0PE(1)").Function())
	assert.Equal(t, "VOLT", Request("VOLT()").Function())
}

func TestSelectorValidate(t *testing.T) {
	assert.NoError(t, FieldSelector{Index: 1}.Validate())
	assert.NoError(t, FieldSelector{Index: 12, SubIndex: 3}.Validate())
	assert.ErrorIs(t, FieldSelector{Index: 0}.Validate(), ErrInvalidSelector)
	assert.ErrorIs(t, FieldSelector{Index: 13}.Validate(), ErrInvalidSelector)
	assert.ErrorIs(t, FieldSelector{Index: 1, SubIndex: -1}.Validate(), ErrInvalidSelector)
}

func TestRegistryDeduplicatesInOrder(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(Endpoint{Name: "energy_t1"}, "ENERGY()", FieldSelector{Index: 1}))
	require.NoError(t, b.Register(Endpoint{Name: "voltage"}, "VOLTA", FieldSelector{Index: 1}))
	require.NoError(t, b.Register(Endpoint{Name: "energy_t2"}, "ENERGY", FieldSelector{Index: 2}))
	reg := b.Build()

	assert.Equal(t, []Request{"ENERGY()", "VOLTA()"}, reg.Requests())
	subs := reg.Subscribers("ENERGY()")
	require.Len(t, subs, 2)
	assert.Equal(t, "energy_t1", subs[0].Endpoint.Name)
	assert.Equal(t, 2, subs[1].Selector.Index)
	assert.Len(t, reg.Endpoints(), 3)
	assert.Nil(t, reg.Subscribers("NOPE()"))
}

func TestRegistryIsImmutableAfterBuild(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(Endpoint{Name: "a"}, "A()", FieldSelector{Index: 1}))
	reg := b.Build()
	require.NoError(t, b.Register(Endpoint{Name: "b"}, "B()", FieldSelector{Index: 1}))

	assert.Equal(t, 1, reg.Len())
	reqs := reg.Requests()
	reqs[0] = "MUTATED()"
	assert.Equal(t, Request("A()"), reg.Requests()[0])
}

func TestRegisterRejectsInvalid(t *testing.T) {
	b := NewBuilder()
	assert.ErrorIs(t, b.Register(Endpoint{Name: "a"}, "1BAD", FieldSelector{Index: 1}), ErrInvalidRequest)
	assert.ErrorIs(t, b.Register(Endpoint{Name: "a"}, "OK()", FieldSelector{Index: 13}), ErrInvalidSelector)
	require.NoError(t, b.Register(Endpoint{Name: "a"}, "OK()", FieldSelector{Index: 1}))
	assert.Error(t, b.Register(Endpoint{Name: "a"}, "OK2()", FieldSelector{Index: 1}))
}

// Every valid request survives encode/decode through the frame codec in
// its normalized form.
func TestRequestsRoundTripThroughCodec(t *testing.T) {
	for _, raw := range []string{"VOLT", "VOLT()", "POWEP(1)", "ET0PE(12,3)", strings.Repeat("A", 13)} {
		req, err := ParseRequest(raw)
		require.NoError(t, err)
		rec, err := iec.Default.DecodeResponse(iec.Default.EncodeRequest(req.String()))
		require.NoError(t, err)
		assert.Equal(t, req.String(), rec.Raw)
		assert.Equal(t, req.Function(), rec.Name)
	}
}
