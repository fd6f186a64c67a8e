package typeddata

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
)

const mailDocument = `{
  "types": {
    "EIP712Domain": [
      {"name": "name", "type": "string"},
      {"name": "version", "type": "string"},
      {"name": "chainId", "type": "uint256"},
      {"name": "verifyingContract", "type": "address"}
    ],
    "Person": [
      {"name": "name", "type": "string"},
      {"name": "wallet", "type": "address"}
    ],
    "Mail": [
      {"name": "from", "type": "Person"},
      {"name": "to", "type": "Person"},
      {"name": "contents", "type": "string"}
    ]
  },
  "primaryType": "Mail",
  "domain": {
    "name": "Ether Mail",
    "version": "1",
    "chainId": 1,
    "verifyingContract": "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
  },
  "message": {
    "from": {"name": "Cow", "wallet": "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826"},
    "to": {"name": "Bob", "wallet": "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"},
    "contents": "Hello, Bob!"
  }
}`

const bulkOrderDocument = `{
  "types": {
    "EIP712Domain": [
      {"name": "name", "type": "string"},
      {"name": "version", "type": "string"},
      {"name": "chainId", "type": "uint256"},
      {"name": "verifyingContract", "type": "address"}
    ],
    "BulkOrder": [
      {"name": "tree", "type": "OrderComponents[2]"}
    ],
    "OrderComponents": [
      {"name": "offerer", "type": "address"},
      {"name": "zone", "type": "address"},
      {"name": "offer", "type": "OfferItem[]"},
      {"name": "consideration", "type": "ConsiderationItem[]"},
      {"name": "orderType", "type": "uint8"},
      {"name": "startTime", "type": "uint256"},
      {"name": "endTime", "type": "uint256"},
      {"name": "zoneHash", "type": "bytes32"},
      {"name": "salt", "type": "uint256"},
      {"name": "conduitKey", "type": "bytes32"},
      {"name": "counter", "type": "uint256"}
    ],
    "OfferItem": [
      {"name": "itemType", "type": "uint8"},
      {"name": "token", "type": "address"},
      {"name": "identifierOrCriteria", "type": "uint256"},
      {"name": "startAmount", "type": "uint256"},
      {"name": "endAmount", "type": "uint256"}
    ],
    "ConsiderationItem": [
      {"name": "itemType", "type": "uint8"},
      {"name": "token", "type": "address"},
      {"name": "identifierOrCriteria", "type": "uint256"},
      {"name": "startAmount", "type": "uint256"},
      {"name": "endAmount", "type": "uint256"},
      {"name": "recipient", "type": "address"}
    ]
  },
  "primaryType": "BulkOrder",
  "domain": {
    "name": "Seaport",
    "version": "1.5",
    "chainId": 1,
    "verifyingContract": "0x00000000000000ADc04C56Bf30aC9d3c0aAF14dC"
  },
  "message": {
    "tree": [
      {
        "offerer": "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
        "zone": "0x0000000000000000000000000000000000000000",
        "offer": [
          {
            "itemType": 2,
            "token": "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D",
            "identifierOrCriteria": "1234",
            "startAmount": "1",
            "endAmount": "1"
          }
        ],
        "consideration": [
          {
            "itemType": 0,
            "token": "0x0000000000000000000000000000000000000000",
            "identifierOrCriteria": "0",
            "startAmount": "975000000000000000",
            "endAmount": "975000000000000000",
            "recipient": "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
          },
          {
            "itemType": 0,
            "token": "0x0000000000000000000000000000000000000000",
            "identifierOrCriteria": "0",
            "startAmount": "25000000000000000",
            "endAmount": "25000000000000000",
            "recipient": "0x0000a26b00c1F0DF003000390027140000fAa719"
          }
        ],
        "orderType": 0,
        "startTime": "1700000000",
        "endTime": "1702592000",
        "zoneHash": "0x0000000000000000000000000000000000000000000000000000000000000000",
        "salt": "0x360c6ebe0000000000000000000000000000000000000000a1b2c3d4e5f60718",
        "conduitKey": "0x0000007b02230091a7ed01230072f7006a004d60a8d4e71d599b8104250f0000",
        "counter": "0"
      },
      {
        "offerer": "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
        "zone": "0x004C00500000aD104D7DBd00e3ae0A5C00560C00",
        "offer": [
          {
            "itemType": 3,
            "token": "0x76BE3b62873462d2142405439777e971754E8E77",
            "identifierOrCriteria": "10490",
            "startAmount": "5",
            "endAmount": "5"
          }
        ],
        "consideration": [
          {
            "itemType": 1,
            "token": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
            "identifierOrCriteria": "0",
            "startAmount": "0x0de0b6b3a7640000",
            "endAmount": "0x0de0b6b3a7640000",
            "recipient": "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
          }
        ],
        "orderType": 2,
        "startTime": "1700000000",
        "endTime": "1702592000",
        "zoneHash": "0x3000000000000000000000000000000000000000000000000000000000000003",
        "salt": "42",
        "conduitKey": "0x0000000000000000000000000000000000000000000000000000000000000000",
        "counter": "3"
      }
    ]
  }
}`

func referenceDigest(t *testing.T, raw string) string {
	t.Helper()
	var td apitypes.TypedData
	require.NoError(t, json.Unmarshal([]byte(raw), &td))
	digest, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	return hexutil.Encode(digest)
}

func TestMailVector(t *testing.T) {
	doc, err := Parse([]byte(mailDocument))
	require.NoError(t, err)

	ds, err := DomainSeparator(doc)
	require.NoError(t, err)
	assert.Equal(t, "0xf2cee375fa42b42143804025fc449deafd50cc031ca257e0b194a650a912090f", hexutil.Encode(ds))

	mh, err := MessageHash(doc)
	require.NoError(t, err)
	assert.Equal(t, "0xc52c0ee5d84264471806290a3f2c4cecfc5490626bf912d01f240d7a274b371e", hexutil.Encode(mh))

	digest, err := HashHex(doc)
	require.NoError(t, err)
	assert.Equal(t, "0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2", digest)
	assert.Equal(t, referenceDigest(t, mailDocument), digest)

	encoded, err := doc.EncodeType("Mail")
	require.NoError(t, err)
	assert.Equal(t, "Mail(Person from,Person to,string contents)Person(string name,address wallet)", encoded)
}

func TestBulkOrderVector(t *testing.T) {
	doc, err := Parse([]byte(bulkOrderDocument))
	require.NoError(t, err)

	ds, err := DomainSeparator(doc)
	require.NoError(t, err)
	assert.Equal(t, "0x0d725b53ccd7c23735755082eee9d43d3add450d3564ad51af0d29aa16eeab3c", hexutil.Encode(ds))

	mh, err := MessageHash(doc)
	require.NoError(t, err)
	assert.Equal(t, "0x82b2564c3c6000be06b2ddb9b385b477c395cfc5f35601921b5fb497fc972281", hexutil.Encode(mh))

	digest, err := HashHex(doc)
	require.NoError(t, err)
	assert.Equal(t, "0xc71ba3be573efe99f14aaf45dcb1511196e063b56e7dec46bf0a2d50b1293404", digest)
	assert.Equal(t, referenceDigest(t, bulkOrderDocument), digest)

	encoded, err := doc.EncodeType("BulkOrder")
	require.NoError(t, err)
	assert.Equal(t,
		"BulkOrder(OrderComponents[2] tree)"+
			"ConsiderationItem(uint8 itemType,address token,uint256 identifierOrCriteria,uint256 startAmount,uint256 endAmount,address recipient)"+
			"OfferItem(uint8 itemType,address token,uint256 identifierOrCriteria,uint256 startAmount,uint256 endAmount)"+
			"OrderComponents(address offerer,address zone,OfferItem[] offer,ConsiderationItem[] consideration,uint8 orderType,uint256 startTime,uint256 endTime,bytes32 zoneHash,uint256 salt,bytes32 conduitKey,uint256 counter)",
		encoded)
}

func TestDomainTypeIsExcludedFromMessageTypes(t *testing.T) {
	doc, err := Parse([]byte(mailDocument))
	require.NoError(t, err)

	_, ok := doc.messageTypes()[DomainType]
	assert.False(t, ok)
	_, ok = doc.Types[DomainType]
	assert.True(t, ok, "the document itself is not modified")

	doc.PrimaryType = DomainType
	h, err := Hash(doc)
	require.NoError(t, err)
	ds, err := DomainSeparator(doc)
	require.NoError(t, err)
	want := hexutil.Encode(curvemath.Keccak256([]byte{0x19, 0x01}, ds))
	assert.Equal(t, want, hexutil.Encode(h[:]))
}

func TestSynthesisedDomainType(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(mailDocument), &raw))
	delete(raw["types"].(map[string]any), DomainType)
	b, err := json.Marshal(raw)
	require.NoError(t, err)

	doc, err := Parse(b)
	require.NoError(t, err)
	digest, err := HashHex(doc)
	require.NoError(t, err)
	assert.Equal(t, "0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2", digest)
}

func TestHashErrors(t *testing.T) {
	mutate := func(t *testing.T, fn func(doc map[string]any)) *Document {
		t.Helper()
		var raw map[string]any
		require.NoError(t, json.Unmarshal([]byte(mailDocument), &raw))
		fn(raw)
		b, err := json.Marshal(raw)
		require.NoError(t, err)
		doc, err := Parse(b)
		require.NoError(t, err)
		return doc
	}

	tests := []struct {
		name string
		fn   func(doc map[string]any)
		want error
	}{
		{
			name: "unknown primary type",
			fn:   func(doc map[string]any) { doc["primaryType"] = "Letter" },
			want: ErrUnknownPrimaryType,
		},
		{
			name: "unresolved field type",
			fn: func(doc map[string]any) {
				types := doc["types"].(map[string]any)
				types["Mail"] = append(types["Mail"].([]any), map[string]any{"name": "stamp", "type": "Stamp"})
			},
			want: ErrUnresolvedFieldType,
		},
		{
			name: "bad integer width",
			fn: func(doc map[string]any) {
				types := doc["types"].(map[string]any)
				types["Person"] = append(types["Person"].([]any), map[string]any{"name": "age", "type": "uint7"})
			},
			want: ErrUnresolvedFieldType,
		},
		{
			name: "missing message field",
			fn:   func(doc map[string]any) { delete(doc["message"].(map[string]any), "contents") },
			want: ErrInvalidTypedData,
		},
		{
			name: "extra message field",
			fn:   func(doc map[string]any) { doc["message"].(map[string]any)["bcc"] = "Eve" },
			want: ErrInvalidTypedData,
		},
		{
			name: "bad address",
			fn: func(doc map[string]any) {
				doc["message"].(map[string]any)["to"].(map[string]any)["wallet"] = "0x1234"
			},
			want: ErrInvalidTypedData,
		},
		{
			name: "struct given as string",
			fn:   func(doc map[string]any) { doc["message"].(map[string]any)["from"] = "Cow" },
			want: ErrInvalidTypedData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Hash(mutate(t, tt.fn))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFixedArrayLengthIsEnforced(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(bulkOrderDocument), &raw))
	msg := raw["message"].(map[string]any)
	msg["tree"] = msg["tree"].([]any)[:1]
	b, err := json.Marshal(raw)
	require.NoError(t, err)

	doc, err := Parse(b)
	require.NoError(t, err)
	_, err = Hash(doc)
	require.ErrorIs(t, err, ErrInvalidTypedData)
}

func TestEncodePrimitive(t *testing.T) {
	tests := []struct {
		typ  string
		val  any
		want string
		err  bool
	}{
		{typ: "uint8", val: json.Number("255"), want: "0x00000000000000000000000000000000000000000000000000000000000000ff"},
		{typ: "uint8", val: json.Number("256"), err: true},
		{typ: "uint256", val: "0x10", want: "0x0000000000000000000000000000000000000000000000000000000000000010"},
		{typ: "int8", val: json.Number("-1"), want: "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
		{typ: "int8", val: json.Number("-129"), err: true},
		{typ: "uint256", val: json.Number("-1"), err: true},
		{typ: "uint256", val: json.Number("1.5"), err: true},
		{typ: "bool", val: true, want: "0x0000000000000000000000000000000000000000000000000000000000000001"},
		{typ: "bytes4", val: "0xdeadbeef", want: "0xdeadbeef00000000000000000000000000000000000000000000000000000000"},
		{typ: "bytes4", val: "0xdead", err: true},
		{typ: "bytes", val: "nothex", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := encodePrimitive(tt.typ, tt.val)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, hexutil.Encode(got))
		})
	}
}
