package protocol

import (
	"fmt"

	coreerrors "poolnet/internal/core/errors"
)

// Retort 服务端返回的结果码，负数表示失败
type Retort int64

const retortBase = 200000

const (
	RetortOK      Retort = 0
	RetortCreated Retort = retortBase + 10

	RetortNullHose              Retort = -(retortBase + 505)
	RetortInUse                 Retort = -(retortBase + 530)
	RetortTypeBadth             Retort = -(retortBase + 540)
	RetortConfigBadth           Retort = -(retortBase + 545)
	RetortWrongVersion          Retort = -(retortBase + 547)
	RetortPoolnameBadth         Retort = -(retortBase + 550)
	RetortImpossibleRename      Retort = -(retortBase + 551)
	RetortInvalidSize           Retort = -(retortBase + 560)
	RetortNoSuchPool            Retort = -(retortBase + 570)
	RetortExists                Retort = -(retortBase + 575)
	RetortProtocolError         Retort = -(retortBase + 580)
	RetortNoSuchProtein         Retort = -(retortBase + 635)
	RetortAwaitTimedOut         Retort = -(retortBase + 640)
	RetortAwaitWoken            Retort = -(retortBase + 650)
	RetortWakeupNotEnabled      Retort = -(retortBase + 660)
	RetortProteinBiggerThanPool Retort = -(retortBase + 700)
	RetortFrozen                Retort = -(retortBase + 710)
	RetortFull                  Retort = -(retortBase + 720)
	RetortNotAProtein           Retort = -(retortBase + 800)
	RetortSendBadth             Retort = -(retortBase + 1000)
	RetortRecvBadth             Retort = -(retortBase + 1010)
	RetortUnexpectedClose       Retort = -(retortBase + 1015)
	RetortSockBadth             Retort = -(retortBase + 1020)
	RetortServerUnreach         Retort = -(retortBase + 1040)
	RetortAlreadyGangMember     Retort = -(retortBase + 1050)
	RetortNotAGangMember        Retort = -(retortBase + 1055)
	RetortEmptyGang             Retort = -(retortBase + 1060)
	RetortUnsupportedOperation  Retort = -(retortBase + 1100)
	RetortNoTLS                 Retort = -(retortBase + 1500)
	RetortTLSRequired           Retort = -(retortBase + 1505)
	RetortTLSError              Retort = -(retortBase + 1510)

	// 只在客户端内部使用：等待被唤醒时已经读了半条消息
	RetortAwaitWokenDirty Retort = -(retortBase + 2000)
)

var retortCodes = map[Retort]coreerrors.ErrorCode{
	RetortNullHose:              coreerrors.CodeNullHose,
	RetortInUse:                 coreerrors.CodePoolInUse,
	RetortTypeBadth:             coreerrors.CodeTypeBadth,
	RetortConfigBadth:           coreerrors.CodeConfigBadth,
	RetortWrongVersion:          coreerrors.CodeWrongVersion,
	RetortPoolnameBadth:         coreerrors.CodePoolnameBadth,
	RetortImpossibleRename:      coreerrors.CodeImpossibleRename,
	RetortInvalidSize:           coreerrors.CodeInvalidSize,
	RetortNoSuchPool:            coreerrors.CodeNoSuchPool,
	RetortExists:                coreerrors.CodePoolExists,
	RetortProtocolError:         coreerrors.CodeProtocolError,
	RetortNoSuchProtein:         coreerrors.CodeNoSuchProtein,
	RetortAwaitTimedOut:         coreerrors.CodeAwaitTimedOut,
	RetortAwaitWoken:            coreerrors.CodeAwaitWoken,
	RetortWakeupNotEnabled:      coreerrors.CodeWakeupNotEnabled,
	RetortProteinBiggerThanPool: coreerrors.CodeProteinBiggerThanPool,
	RetortFrozen:                coreerrors.CodePoolFrozen,
	RetortFull:                  coreerrors.CodePoolFull,
	RetortNotAProtein:           coreerrors.CodeNotAProtein,
	RetortSendBadth:             coreerrors.CodeSendBadth,
	RetortRecvBadth:             coreerrors.CodeRecvBadth,
	RetortUnexpectedClose:       coreerrors.CodeUnexpectedClose,
	RetortSockBadth:             coreerrors.CodeSockBadth,
	RetortServerUnreach:         coreerrors.CodeServerUnreach,
	RetortAlreadyGangMember:     coreerrors.CodeAlreadyGangMember,
	RetortNotAGangMember:        coreerrors.CodeNotAGangMember,
	RetortEmptyGang:             coreerrors.CodeEmptyGang,
	RetortUnsupportedOperation:  coreerrors.CodeUnsupportedOperation,
	RetortNoTLS:                 coreerrors.CodeNoTLS,
	RetortTLSRequired:           coreerrors.CodeTLSRequired,
	RetortTLSError:              coreerrors.CodeTLSError,
}

var codeRetorts = func() map[coreerrors.ErrorCode]Retort {
	m := make(map[coreerrors.ErrorCode]Retort, len(retortCodes))
	for r, c := range retortCodes {
		m[c] = r
	}
	return m
}()

// IsSuccess 非负 retort 表示成功
func (r Retort) IsSuccess() bool {
	return r >= 0
}

// Code 返回对应的错误码，未知失败 retort 映射为 SERVER_ERROR
func (r Retort) Code() coreerrors.ErrorCode {
	if c, ok := retortCodes[r]; ok {
		return c
	}
	return coreerrors.CodeServerError
}

func (r Retort) String() string {
	switch r {
	case RetortOK:
		return "OK"
	case RetortCreated:
		return "POOL_CREATED"
	}
	if c, ok := retortCodes[r]; ok {
		return string(c)
	}
	return fmt.Sprintf("retort(%d)", int64(r))
}

// Err 成功返回 nil，失败返回带 retort 详情的 *Error
func (r Retort) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return coreerrors.Newf(r.Code(), "server returned %s", r).WithDetailInt("retort", int64(r))
}

// RetortOf 把错误转换为 retort，用于把本地错误发给对端
func RetortOf(err error) Retort {
	if err == nil {
		return RetortOK
	}
	var e *coreerrors.Error
	if coreerrors.As(err, &e) {
		if v, ok := e.GetDetailInt("retort"); ok {
			return Retort(v)
		}
		if r, ok := codeRetorts[e.Code]; ok {
			return r
		}
	}
	return RetortProtocolError
}
