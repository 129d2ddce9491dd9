package devicestore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/mydia/go-remoteaccess/internal/core/storage/engine"
	"github.com/mydia/go-remoteaccess/internal/core/storage/kv"
)

// instanceKey 实例身份的存储键
var instanceKey = []byte("self")

// sealInfo 派生落盘加密密钥的 HKDF info
const sealInfo = "mydia-instance-key"

// sealingKey 从主密钥派生 32 字节加密密钥
func (s *Store) sealingKey() ([]byte, error) {
	if len(s.secret) == 0 {
		return nil, ErrNoSecret
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.secret, nil, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// seal 用 XChaCha20-Poly1305 加密私钥，输出 nonce(24) || ct || tag
func (s *Store) seal(instanceID string, priv []byte) ([]byte, error) {
	key, err := s.sealingKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(priv)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, priv, []byte(instanceID)), nil
}

func (s *Store) unseal(instanceID string, sealed []byte) ([]byte, error) {
	key, err := s.sealingKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrSealedKey
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	priv, err := aead.Open(nil, nonce, ct, []byte(instanceID))
	if err != nil {
		return nil, ErrSealedKey
	}
	return priv, nil
}

// LoadInstance 读取并解密实例身份
func (s *Store) LoadInstance(ctx context.Context) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var stored storedInstance
	if err := s.instance.GetJSON(instanceKey, &stored); err != nil {
		if engine.IsNotFound(err) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	priv, err := s.unseal(stored.InstanceID, stored.SealedPrivateKey)
	if err != nil {
		return nil, err
	}
	inst := stored.Instance
	inst.PrivateKey = priv
	return &inst, nil
}

// SaveInstance 加密私钥并保存实例身份
func (s *Store) SaveInstance(ctx context.Context, inst *Instance) error {
	if inst.InstanceID == "" || len(inst.PrivateKey) != curve25519.ScalarSize {
		return fmt.Errorf("devicestore: invalid instance identity")
	}
	sealed, err := s.seal(inst.InstanceID, inst.PrivateKey)
	if err != nil {
		return err
	}
	stored := storedInstance{Instance: *inst, SealedPrivateKey: sealed}
	return s.update(ctx, func(tx *kv.Tx) error {
		return tx.In(s.instance).SetJSON(instanceKey, &stored)
	})
}

// EnsureInstance 读取实例身份，不存在时生成新的 instance_id 和 X25519 静态密钥对
func (s *Store) EnsureInstance(ctx context.Context) (*Instance, error) {
	inst, err := s.LoadInstance(ctx)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, ErrInstanceNotFound) {
		return nil, err
	}

	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	inst = &Instance{
		InstanceID: uuid.NewString(),
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  s.Now(),
	}
	if err := s.SaveInstance(ctx, inst); err != nil {
		return nil, err
	}
	log.Info("已生成实例身份", "instance", inst.InstanceID)
	return inst, nil
}

// UpdateInstance 修改实例的直连地址或证书指纹
func (s *Store) UpdateInstance(ctx context.Context, mutate func(inst *Instance)) (*Instance, error) {
	inst, err := s.LoadInstance(ctx)
	if err != nil {
		return nil, err
	}
	mutate(inst)
	if err := s.SaveInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}
