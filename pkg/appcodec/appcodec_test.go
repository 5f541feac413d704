package appcodec

import (
	"errors"
	"reflect"
	"testing"
)

func TestOrderRoundTrip(t *testing.T) {
	o := Order{ID: 42, Items: []string{"burger", "fries", "shake"}}
	got, err := DecodeOrder(EncodeOrder(o))
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if !reflect.DeepEqual(got, o) {
		t.Fatalf("got %+v, want %+v", got, o)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	r := Reply{ID: 42, CookMS: 1500, Items: []string{"burger", "fries", "shake"}}
	got, err := DecodeReply(EncodeReply(r))
	if err != nil {
		t.Fatalf("DecodeReply: %v", err)
	}
	if !reflect.DeepEqual(got, r) {
		t.Fatalf("got %+v, want %+v", got, r)
	}
}

func TestDecodeOrderRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("ORDER\n"),
		[]byte("ORDER notanumber burger\n"),
		[]byte("REPLY 1 burger\n"),
	}
	for _, c := range cases {
		if _, err := DecodeOrder(c); !errors.Is(err, ErrMalformedOrder) {
			t.Fatalf("DecodeOrder(%q) err = %v, want ErrMalformedOrder", c, err)
		}
	}
}

func TestDecodeReplyRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("REPLY 1\n"),
		[]byte("REPLY notanumber 10 burger\n"),
		[]byte("REPLY 1 notanumber burger\n"),
		[]byte("ORDER 1 burger\n"),
	}
	for _, c := range cases {
		if _, err := DecodeReply(c); !errors.Is(err, ErrMalformedReply) {
			t.Fatalf("DecodeReply(%q) err = %v, want ErrMalformedReply", c, err)
		}
	}
}
