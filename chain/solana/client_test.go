package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/vocdoni/shieldpay/crypto/stealth"
	"github.com/vocdoni/shieldpay/types"
)

func testWithdrawal() *types.Withdrawal {
	return &types.Withdrawal{
		Proof:                []byte{1, 2, 3, 4, 5},
		MerkleRoot:           big.NewInt(100),
		Nullifiers:           [2]*big.Int{big.NewInt(1), big.NewInt(2)},
		OutputCommitments:    [2]*big.Int{big.NewInt(3), big.NewInt(4)},
		RelayerFeeCommitment: big.NewInt(5),
		DenominationIndex:    2,
		FeeBps:               50,
	}
}

func TestWithdrawArgsLayout(t *testing.T) {
	c := qt.New(t)
	data, err := NewWithdrawArgs(testWithdrawal()).Encode()
	c.Assert(err, qt.IsNil)

	// discriminator, proof length prefix and bytes, six 32 byte field
	// elements, u8 and u16
	c.Assert(data, qt.HasLen, 8+4+5+6*32+1+2)
	c.Assert(data[:8], qt.DeepEquals, withdrawDiscriminator[:])
	c.Assert(binary.LittleEndian.Uint32(data[8:12]), qt.Equals, uint32(5))
	root := data[17 : 17+32]
	c.Assert(new(big.Int).SetBytes(root).Int64(), qt.Equals, int64(100))
	c.Assert(binary.LittleEndian.Uint16(data[len(data)-2:]), qt.Equals, uint16(50))
	c.Assert(data[len(data)-3], qt.Equals, byte(2))

	args, err := DecodeWithdrawArgs(data)
	c.Assert(err, qt.IsNil)
	c.Assert(args.Proof, qt.DeepEquals, []byte{1, 2, 3, 4, 5})

	data[0] ^= 0xff
	_, err = DecodeWithdrawArgs(data)
	c.Assert(err, qt.ErrorMatches, "not a withdraw instruction")
}

func TestWithdrawInstructionAccounts(t *testing.T) {
	c := qt.New(t)
	program := solana.NewWallet().PublicKey()
	relayer := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()
	w := testWithdrawal()

	ix, err := NewWithdrawInstruction(program, WithdrawAccounts{Relayer: relayer, Pool: pool}, w)
	c.Assert(err, qt.IsNil)
	c.Assert(ix.ProgramID(), qt.Equals, program)
	accounts := ix.Accounts()
	c.Assert(accounts, qt.HasLen, 5)
	c.Assert(accounts[0].PublicKey, qt.Equals, relayer)
	c.Assert(accounts[0].IsSigner, qt.IsTrue)

	n1, err := NullifierAddress(program, w.Nullifiers[0])
	c.Assert(err, qt.IsNil)
	c.Assert(accounts[2].PublicKey, qt.Equals, n1)
	c.Assert(accounts[2].IsWritable, qt.IsTrue)
	c.Assert(accounts[4].PublicKey, qt.Equals, solana.SystemProgramID)
}

func TestTransactionCommitments(t *testing.T) {
	c := qt.New(t)
	program := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()

	deposit, err := NewDepositInstruction(program, payer, pool, big.NewInt(7), 1)
	c.Assert(err, qt.IsNil)
	withdraw, err := NewWithdrawInstruction(program, WithdrawAccounts{Relayer: payer, Pool: pool}, testWithdrawal())
	c.Assert(err, qt.IsNil)
	transfer := system.NewTransferInstruction(1, payer, pool).Build()
	// a foreign program with a deposit shaped payload is ignored
	foreign, err := NewDepositInstruction(solana.NewWallet().PublicKey(), payer, pool, big.NewInt(9), 1)
	c.Assert(err, qt.IsNil)

	tx, err := solana.NewTransaction([]solana.Instruction{deposit, transfer, foreign, withdraw},
		solana.Hash{}, solana.TransactionPayer(payer))
	c.Assert(err, qt.IsNil)
	leaves, err := TransactionCommitments(program, tx)
	c.Assert(err, qt.IsNil)
	c.Assert(leaves, qt.HasLen, 3)
	for i, want := range []int64{7, 3, 4} {
		c.Assert(leaves[i].Int64(), qt.Equals, want)
	}

	cms, err := LeafCommitments([]byte{1, 2})
	c.Assert(err, qt.IsNil)
	c.Assert(cms, qt.HasLen, 0)
	_, err = LeafCommitments(depositDiscriminator[:])
	c.Assert(err, qt.ErrorMatches, "decode deposit args: .*")
}

func TestBalance(t *testing.T) {
	c := qt.New(t)
	account := solana.NewWallet().PublicKey()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []any           `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Method != "getBalance" || len(req.Params) == 0 || req.Params[0] != account.String() {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"unexpected"}}`, req.ID)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"context":{"slot":10},"value":1234567}}`, req.ID)
	}))
	defer srv.Close()

	cli, err := New(Config{Endpoint: srv.URL})
	c.Assert(err, qt.IsNil)
	balance, err := cli.Balance(context.Background(), account)
	c.Assert(err, qt.IsNil)
	c.Assert(balance, qt.Equals, uint64(1234567))

	_, err = cli.Balance(context.Background(), solana.NewWallet().PublicKey())
	c.Assert(err, qt.Not(qt.IsNil))

	c.Assert(cli.Address(), qt.Equals, solana.PublicKey{})
	_, err = cli.Submit(context.Background(), testWithdrawal())
	c.Assert(err, qt.ErrorMatches, "relayer key not configured")

	_, err = New(Config{})
	c.Assert(err, qt.ErrorMatches, "rpc endpoint required")
}

func TestCommitments(t *testing.T) {
	c := qt.New(t)
	program := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()
	payer := solana.NewWallet().PublicKey()

	depositTx := func(cm int64) string {
		ix, err := NewDepositInstruction(program, payer, pool, big.NewInt(cm), 0)
		c.Assert(err, qt.IsNil)
		tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(payer))
		c.Assert(err, qt.IsNil)
		data, err := tx.MarshalBinary()
		c.Assert(err, qt.IsNil)
		return base64.StdEncoding.EncodeToString(data)
	}
	// newest first, as the node returns them
	sigs := []solana.Signature{{3}, {2}, {1}}
	txs := map[string]string{
		sigs[2].String(): depositTx(10),
		sigs[1].String(): depositTx(20),
		sigs[0].String(): depositTx(30),
	}
	var mu sync.Mutex
	var untils []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []any           `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "getSignaturesForAddress":
			opts, _ := req.Params[1].(map[string]any)
			mu.Lock()
			untils = append(untils, opts["until"])
			mu.Unlock()
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":[`+
				`{"signature":%q,"slot":12,"err":null},`+
				`{"signature":%q,"slot":11,"err":{"InstructionError":[0,"Custom"]}},`+
				`{"signature":%q,"slot":10,"err":null}]}`,
				req.ID, sigs[0], sigs[1], sigs[2])
		case "getTransaction":
			sig, _ := req.Params[0].(string)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"slot":10,"transaction":[%q,"base64"],"meta":{"err":null,"fee":5000}}}`,
				req.ID, txs[sig])
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"unexpected"}}`, req.ID)
		}
	}))
	defer srv.Close()

	cli, err := New(Config{Endpoint: srv.URL, ProgramID: program, PoolAccount: pool})
	c.Assert(err, qt.IsNil)
	batches, err := cli.Commitments(context.Background(), "")
	c.Assert(err, qt.IsNil)
	c.Assert(batches, qt.HasLen, 3)
	c.Assert(batches[0].Signature, qt.Equals, sigs[2].String())
	c.Assert(batches[0].Commitments, qt.HasLen, 1)
	c.Assert(batches[0].Commitments[0].Int64(), qt.Equals, int64(10))
	// a failed transaction appends nothing
	c.Assert(batches[1].Commitments, qt.HasLen, 0)
	c.Assert(batches[2].Commitments[0].Int64(), qt.Equals, int64(30))
	c.Assert(batches[2].Slot, qt.Equals, uint64(12))

	_, err = cli.Commitments(context.Background(), sigs[0].String())
	c.Assert(err, qt.IsNil)
	mu.Lock()
	c.Assert(untils, qt.DeepEquals, []any{nil, sigs[0].String()})
	mu.Unlock()

	_, err = cli.Commitments(context.Background(), "not base58!")
	c.Assert(err, qt.ErrorMatches, "cursor signature: .*")
	noPool, err := New(Config{Endpoint: srv.URL, ProgramID: program})
	c.Assert(err, qt.IsNil)
	_, err = noPool.Commitments(context.Background(), "")
	c.Assert(err, qt.ErrorMatches, "program id and pool account required")
}

func TestSweepStealth(t *testing.T) {
	c := qt.New(t)
	keys, err := stealth.GenerateKeys()
	c.Assert(err, qt.IsNil)
	owner := keys.SpendingKey
	from, err := owner.PublicKey()
	c.Assert(err, qt.IsNil)
	to := solana.NewWallet().PublicKey()

	var mu sync.Mutex
	var sent *solana.Transaction
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []any           `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "getBalance":
			value := 0
			if req.Params[0] == from.String() {
				value = 1_000_000
			}
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"context":{"slot":10},"value":%d}}`, req.ID, value)
		case "getLatestBlockhash":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"context":{"slot":10},"value":{"blockhash":%q,"lastValidBlockHeight":100}}}`,
				req.ID, solana.Hash{9}.String())
		case "sendTransaction":
			raw, _ := req.Params[0].(string)
			data, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			tx, err := solana.TransactionFromBytes(data)
			if err != nil || tx.VerifySignatures() != nil {
				fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32003,"message":"signature verification failure"}}`, req.ID)
				return
			}
			mu.Lock()
			sent = tx
			mu.Unlock()
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%q}`, req.ID, tx.Signatures[0].String())
		case "getSignatureStatuses":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"context":{"slot":11},"value":[`+
				`{"slot":11,"confirmations":null,"err":null,"confirmationStatus":"confirmed"}]}}`, req.ID)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"unexpected"}}`, req.ID)
		}
	}))
	defer srv.Close()

	cli, err := New(Config{Endpoint: srv.URL})
	c.Assert(err, qt.IsNil)
	sig, amount, err := cli.SweepStealth(context.Background(), owner, to)
	c.Assert(err, qt.IsNil)
	c.Assert(amount, qt.Equals, uint64(1_000_000-LamportsPerSignature))

	mu.Lock()
	defer mu.Unlock()
	c.Assert(sent, qt.Not(qt.IsNil))
	c.Assert(sig, qt.Equals, sent.Signatures[0].String())
	c.Assert(sent.Message.AccountKeys[0], qt.Equals, from)
	data := sent.Message.Instructions[0].Data
	c.Assert(binary.LittleEndian.Uint32(data[:4]), qt.Equals, uint32(system.Instruction_Transfer))
	c.Assert(binary.LittleEndian.Uint64(data[4:12]), qt.Equals, amount)

	empty, err := stealth.GenerateKeys()
	c.Assert(err, qt.IsNil)
	_, _, err = cli.SweepStealth(context.Background(), empty.SpendingKey, to)
	c.Assert(err, qt.ErrorMatches, "nothing to sweep from .*")
}
