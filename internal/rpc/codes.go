package rpc

// Error codes carried in JSON replies and RPC responses.
const (
	ErrCodeSuccess      = 0
	ErrCodeJSON         = 1001
	ErrCodeRPCFailed    = 1002
	ErrCodeVerifyExpire = 1003
	ErrCodeVerifyCode   = 1004
	ErrCodeUserExist    = 1005
	ErrCodePasswd       = 1006
	ErrCodeTokenInvalid = 1010
	ErrCodeUIDInvalid   = 1011
)

// Message ids of the client wire protocol.
const (
	MsgChatLogin           uint16 = 1005
	MsgChatLoginRsp        uint16 = 1006
	MsgSearchUserReq       uint16 = 1007
	MsgSearchUserRsp       uint16 = 1008
	MsgAddFriendReq        uint16 = 1009
	MsgAddFriendRsp        uint16 = 1010
	MsgNotifyAddFriendReq  uint16 = 1011
	MsgAuthFriendReq       uint16 = 1013
	MsgAuthFriendRsp       uint16 = 1014
	MsgNotifyAuthFriendReq uint16 = 1015
	MsgTextChatMsgReq      uint16 = 1017
	MsgTextChatMsgRsp      uint16 = 1018
	MsgNotifyTextChatReq   uint16 = 1019
)
