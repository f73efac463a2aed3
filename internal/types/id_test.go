package types

import (
	"encoding/json"
	"testing"
)

func TestID_UnmarshalJSON(t *testing.T) {
	cases := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{`"ride-1"`, "ride-1", false},
		{`42`, "42", false},
		{`9007199254740993`, "9007199254740993", false},
		{`null`, "", false},
		{`true`, "", true},
		{`{"id":1}`, "", true},
	}
	for _, tc := range cases {
		var got ID
		err := json.Unmarshal([]byte(tc.in), &got)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestID_InStruct(t *testing.T) {
	var v struct {
		RideID   ID `json:"rideId"`
		DriverID ID `json:"driverId"`
	}
	if err := json.Unmarshal([]byte(`{"rideId":17,"driverId":"d1"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.RideID != "17" || v.DriverID != "d1" {
		t.Fatalf("got %+v", v)
	}
}
