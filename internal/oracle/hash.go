package oracle

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	commitArgs     abi.Arguments
	questionIDArgs abi.Arguments
)

func init() {
	bytes32 := mustType("bytes32")
	bytesT := mustType("bytes")
	address := mustType("address")

	commitArgs = abi.Arguments{{Type: bytes32}, {Type: bytesT}, {Type: bytes32}, {Type: address}}
	questionIDArgs = abi.Arguments{{Type: address}, {Type: bytes32}, {Type: bytes32}}
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// CommitHash is keccak256(abi.encode(id, encodedOutcome, salt, sender)).
func CommitHash(id common.Hash, outcome []byte, salt common.Hash, sender common.Address) (common.Hash, error) {
	packed, err := commitArgs.Pack([32]byte(id), outcome, [32]byte(salt), sender)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// QuestionID is keccak256(abi.encode(creator, salt, templateHash)).
func QuestionID(creator common.Address, salt, templateHash common.Hash) common.Hash {
	packed, err := questionIDArgs.Pack(creator, [32]byte(salt), [32]byte(templateHash))
	if err != nil {
		// Static types of fixed width cannot fail to pack.
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}

// TemplateHash hashes a question template.
func TemplateHash(template string) common.Hash {
	return crypto.Keccak256Hash([]byte(template))
}
